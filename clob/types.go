package clob

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType 订单执行类型
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-or-Kill
	OrderTypeFAK OrderType = "FAK" // Fill-and-Kill（部分成交后取消剩余）
)

// ApiKeyCreds CLOB API 凭证（L1 派生）
type ApiKeyCreds struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// OrderResponse 下单响应
type OrderResponse struct {
	Success           bool     `json:"success"`
	ErrorMsg          string   `json:"errorMsg"`
	OrderID           string   `json:"orderID"`
	TransactionHashes []string `json:"transactionsHashes"`
	Status            string   `json:"status"`
	TakingAmount      string   `json:"takingAmount"`
	MakingAmount      string   `json:"makingAmount"`
}

// OpenOrder 订单查询结果
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Owner        string `json:"owner"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	Outcome      string `json:"outcome"`
	CreatedAt    int64  `json:"created_at"`
}

// BookLevel 订单簿一档
type BookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// Book 订单簿快照
type Book struct {
	Market    string      `json:"market"`
	AssetID   string      `json:"asset_id"`
	Timestamp string      `json:"timestamp"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
}

// GammaMarket Gamma API 市场元数据（只保留交易需要的字段）
type GammaMarket struct {
	Slug          string  `json:"slug"`
	ConditionID   string  `json:"conditionId"`
	Question      string  `json:"question"`
	EndDateISO    string  `json:"endDateIso"`
	Liquidity     float64 `json:"liquidityNum"`
	ClobTokenIDs  string  `json:"clobTokenIds"` // JSON 字符串：["yesID","noID"]
	NegRisk       bool    `json:"negRisk"`
	Closed        bool    `json:"closed"`
	AcceptingOrders bool  `json:"acceptingOrders"`
	FeeRateBps    string  `json:"feeRateBps"`
}
