package wikipedia

// searchResponse is the MediaWiki action=query&list=search payload.
type searchResponse struct {
	Query struct {
		Search []searchHit `json:"search"`
	} `json:"query"`
	Error *apiError `json:"error,omitempty"`
}

type searchHit struct {
	Title   string `json:"title"`
	PageID  int    `json:"pageid"`
	Snippet string `json:"snippet"`
}

type apiError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

// summaryResponse is the REST v1 page/summary payload.
type summaryResponse struct {
	Title   string `json:"title"`
	Extract string `json:"extract"`
}
