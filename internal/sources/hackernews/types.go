package hackernews

// searchResponse is the Algolia /search payload.
type searchResponse struct {
	Hits []hit `json:"hits"`
}

type hit struct {
	ObjectID  string `json:"objectID"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	StoryText string `json:"story_text"`
	Author    string `json:"author"`
	Points    int    `json:"points"`
}
