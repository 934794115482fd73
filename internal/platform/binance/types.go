package binance

// --------------------------------------------------------------------------
// Binance spot API DTOs
// --------------------------------------------------------------------------

// DepthSnapshot is the body of GET /api/v3/depth. Each level is a
// [price, quantity] pair of decimal strings.
type DepthSnapshot struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// DepthEvent is one message of the <symbol>@depth diff stream. A level with
// quantity "0" removes that price.
type DepthEvent struct {
	EventType     string      `json:"e"` // "depthUpdate"
	EventTime     int64       `json:"E"` // ms since epoch
	Symbol        string      `json:"s"`
	FirstUpdateID int64       `json:"U"`
	FinalUpdateID int64       `json:"u"`
	Bids          [][2]string `json:"b"`
	Asks          [][2]string `json:"a"`
}

// apiError is the JSON error body returned by the REST API.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}
