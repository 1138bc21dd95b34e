package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultMulticallAddress is the canonical Multicall3 deployment, present at
// the same address on Base Sepolia and most other EVM networks.
var DefaultMulticallAddress = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

const registryABIJSON = `[
  {"type":"function","name":"getAllCreators","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"getCreator","stateMutability":"view",
   "inputs":[{"name":"creator","type":"address"}],
   "outputs":[
     {"name":"wallet","type":"address"},
     {"name":"name","type":"string"},
     {"name":"bio","type":"string"},
     {"name":"avatar","type":"string"},
     {"name":"isActive","type":"bool"},
     {"name":"totalTipsReceived","type":"uint256"},
     {"name":"supporterCount","type":"uint256"}]},
  {"type":"function","name":"getStats","stateMutability":"view","inputs":[],
   "outputs":[
     {"name":"totalCreators","type":"uint256"},
     {"name":"totalTips","type":"uint256"},
     {"name":"totalSupporters","type":"uint256"}]},
  {"type":"event","name":"CreatorRegistered","anonymous":false,
   "inputs":[
     {"name":"creator","type":"address","indexed":true},
     {"name":"name","type":"string","indexed":false}]},
  {"type":"event","name":"TipSent","anonymous":false,
   "inputs":[
     {"name":"from","type":"address","indexed":true},
     {"name":"to","type":"address","indexed":true},
     {"name":"amount","type":"uint256","indexed":false},
     {"name":"memo","type":"string","indexed":false}]}
]`

const multicallABIJSON = `[
  {"type":"function","name":"aggregate3","stateMutability":"payable",
   "inputs":[{"name":"calls","type":"tuple[]","components":[
     {"name":"target","type":"address"},
     {"name":"allowFailure","type":"bool"},
     {"name":"callData","type":"bytes"}]}],
   "outputs":[{"name":"returnData","type":"tuple[]","components":[
     {"name":"success","type":"bool"},
     {"name":"returnData","type":"bytes"}]}]}
]`

var (
	registryABI  = mustABI(registryABIJSON)
	multicallABI = mustABI(multicallABIJSON)

	creatorRegisteredTopic = registryABI.Events["CreatorRegistered"].ID
	tipSentTopic           = registryABI.Events["TipSent"].ID
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

type multicallCall struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type multicallResult struct {
	Success    bool
	ReturnData []byte
}
