package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type BalanceResponse struct {
	Wallet              string            `json:"wallet"`
	BalanceUSD          string            `json:"balance_usd"`
	TotalCreditedUSD    string            `json:"total_credited_usd"`
	TotalSpentUSD       string            `json:"total_spent_usd"`
	WelcomeBonusGranted bool              `json:"welcome_bonus_granted"`
	PricesUSD           map[string]string `json:"prices_usd"`
	RemainingQueries    map[string]int64  `json:"remaining_queries"`
	Transactions        any               `json:"transactions,omitempty"`
}

type OracleKeyResponse struct {
	PublicKey  string `json:"public_key"`
	Algorithm  string `json:"algorithm"`
	SignedOver string `json:"signed_over"`
}

type TargetsResponse struct {
	Targets []TargetInfo `json:"targets"`
}

type TargetInfo struct {
	Name   string            `json:"name"`
	Fields map[string]string `json:"fields"`
}
