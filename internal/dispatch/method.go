package dispatch

// Method is a peer RPC method the wallet understands.
type Method int

const (
	Unknown Method = iota
	ChainID
	Accounts
	PersonalSign
	EthSign
	SignTypedData
	SignTransaction
	SendTransaction
)

// Methods lists every supported method, in declaration order.
var Methods = []Method{ChainID, Accounts, PersonalSign, EthSign, SignTypedData, SignTransaction, SendTransaction}

var methodNames = map[string]Method{
	"eth_chainId":          ChainID,
	"eth_accounts":         Accounts,
	"personal_sign":        PersonalSign,
	"eth_sign":             EthSign,
	"eth_signTypedData":    SignTypedData,
	"eth_signTypedData_v4": SignTypedData,
	"eth_signTransaction":  SignTransaction,
	"eth_sendTransaction":  SendTransaction,
}

func ParseMethod(name string) Method {
	if m, ok := methodNames[name]; ok {
		return m
	}
	return Unknown
}

func (m Method) String() string {
	switch m {
	case ChainID:
		return "eth_chainId"
	case Accounts:
		return "eth_accounts"
	case PersonalSign:
		return "personal_sign"
	case EthSign:
		return "eth_sign"
	case SignTypedData:
		return "eth_signTypedData"
	case SignTransaction:
		return "eth_signTransaction"
	case SendTransaction:
		return "eth_sendTransaction"
	default:
		return "unknown"
	}
}

// AutoApproved reports whether the method is answered without operator review.
func (m Method) AutoApproved() bool {
	return m == ChainID || m == Accounts
}

// SessionMethods are granted to every approved session.
var SessionMethods = []string{
	"eth_sendTransaction",
	"eth_signTransaction",
	"eth_sign",
	"personal_sign",
	"eth_signTypedData",
}
