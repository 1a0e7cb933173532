package slashing

import (
	"fmt"

	"hotledger/types"
	"hotledger/utils"
	"hotledger/validator"
)

// VerifyEvidence 用集合中登记的公钥独立验证证据
func VerifyEvidence(ev *types.Evidence, set *validator.Set) error {
	if ev == nil {
		return fmt.Errorf("%w: nil evidence", types.ErrMalformedMessage)
	}
	if err := ev.ValidateBasic(); err != nil {
		return err
	}
	info, ok := set.Get(ev.Validator)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, ev.Validator)
	}
	switch ev.Kind {
	case types.EvidenceEquivocation:
		for _, v := range []*types.Vote{ev.VoteA, ev.VoteB} {
			if err := utils.BLSVerifySignature(info.BLSPubKey, v.SigningBytes(), v.Signature); err != nil {
				return fmt.Errorf("%w: equivocation vote: %v", types.ErrInvalidSignature, err)
			}
		}
	case types.EvidenceViewRegression:
		if err := ev.NewView.VerifySignature(); err != nil {
			return err
		}
		if types.AddressFromPubKey(ev.NewView.PubKey) != info.Address {
			return fmt.Errorf("%w: new-view key is not the validator's", types.ErrInvalidSignature)
		}
	}
	return nil
}
