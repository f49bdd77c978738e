package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/celo-runner/internal/domain"
)

// RevertReason extracts the Error(string) reason carried in structured
// RPC error data. It returns "" when err carries no decodable revert.
func RevertReason(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	hexData, ok := dataErr.ErrorData().(string)
	if !ok {
		return ""
	}
	data, decodeErr := hexutil.Decode(hexData)
	if decodeErr != nil {
		return ""
	}
	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		return ""
	}
	return reason
}

// knownReasons maps revert reasons to the benign domain outcomes.
var knownReasons = []struct {
	fragment string
	err      error
}{
	{"already registered", domain.ErrAlreadyRegistered},
	{"already claimed", domain.ErrAlreadyClaimed},
}

// Classify maps a write failure onto a domain error when it carries a
// known revert reason. The structured reason is checked first; the error
// text is the fallback because gas estimation failures lose their data.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, candidate := range []string{RevertReason(err), err.Error()} {
		lower := strings.ToLower(candidate)
		if lower == "" {
			continue
		}
		for _, known := range knownReasons {
			if errors.Is(err, known.err) {
				return err
			}
			if strings.Contains(lower, known.fragment) {
				return fmt.Errorf("%w: %w", known.err, err)
			}
		}
	}
	return err
}
