package reddit

// listingResponse is the /r/{sub}/search.json payload.
type listingResponse struct {
	Data struct {
		Children []child `json:"children"`
	} `json:"data"`
}

type child struct {
	Kind string `json:"kind"`
	Data post   `json:"data"`
}

type post struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Permalink string `json:"permalink"`
	Selftext  string `json:"selftext"`
	IsSelf    bool   `json:"is_self"`
	Subreddit string `json:"subreddit"`
}
