package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// remittanceABI covers the escrow contract surface the client uses.
const remittanceABI = `[
  {"type":"function","name":"sendRemittance","stateMutability":"nonpayable",
   "inputs":[
     {"name":"recipient","type":"address"},
     {"name":"amount","type":"uint256"},
     {"name":"fxRate","type":"uint256"},
     {"name":"sourceCurrency","type":"string"},
     {"name":"targetCurrency","type":"string"}],
   "outputs":[{"name":"transferId","type":"uint256"}]},
  {"type":"function","name":"withdraw","stateMutability":"nonpayable",
   "inputs":[{"name":"transferId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"transfers","stateMutability":"view",
   "inputs":[{"name":"","type":"uint256"}],
   "outputs":[
     {"name":"sender","type":"address"},
     {"name":"recipient","type":"address"},
     {"name":"amount","type":"uint256"},
     {"name":"fxRate","type":"uint256"},
     {"name":"sourceCurrency","type":"string"},
     {"name":"targetCurrency","type":"string"},
     {"name":"withdrawn","type":"bool"}]},
  {"type":"event","name":"TransferInitiated","anonymous":false,
   "inputs":[
     {"name":"transferId","type":"uint256","indexed":true},
     {"name":"sender","type":"address","indexed":true},
     {"name":"recipient","type":"address","indexed":true},
     {"name":"amount","type":"uint256","indexed":false},
     {"name":"fxRate","type":"uint256","indexed":false},
     {"name":"sourceCurrency","type":"string","indexed":false},
     {"name":"targetCurrency","type":"string","indexed":false}]},
  {"type":"event","name":"Withdrawn","anonymous":false,
   "inputs":[
     {"name":"transferId","type":"uint256","indexed":true},
     {"name":"recipient","type":"address","indexed":true}]}
]`

// tokenABI is the ERC-20 subset used for authorization and pre-checks.
const tokenABI = `[
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	escrowContract = mustParseABI(remittanceABI)
	tokenContract  = mustParseABI(tokenABI)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("invalid contract ABI: " + err.Error())
	}
	return parsed
}
