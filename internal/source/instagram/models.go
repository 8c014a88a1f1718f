package instagram

type profileResponse struct {
	Data struct {
		User *userNode `json:"user"`
	} `json:"data"`
	Status string `json:"status"`
}

type userNode struct {
	ID        string        `json:"id"`
	Username  string        `json:"username"`
	FullName  string        `json:"full_name"`
	IsPrivate bool          `json:"is_private"`
	Timeline  timelineMedia `json:"edge_owner_to_timeline_media"`
}

type timelineResponse struct {
	Data struct {
		User *struct {
			Timeline timelineMedia `json:"edge_owner_to_timeline_media"`
		} `json:"user"`
	} `json:"data"`
	Status string `json:"status"`
}

type shortcodeResponse struct {
	Data struct {
		Media *mediaNode `json:"shortcode_media"`
	} `json:"data"`
	Status string `json:"status"`
}

type timelineMedia struct {
	Count    int64      `json:"count"`
	PageInfo pageInfo   `json:"page_info"`
	Edges    []nodeEdge `json:"edges"`
}

type pageInfo struct {
	HasNextPage bool   `json:"has_next_page"`
	EndCursor   string `json:"end_cursor"`
}

type nodeEdge struct {
	Node mediaNode `json:"node"`
}

type mediaNode struct {
	ID         string        `json:"id"`
	TypeName   string        `json:"__typename"`
	Shortcode  string        `json:"shortcode"`
	IsVideo    bool          `json:"is_video"`
	DisplayURL string        `json:"display_url"`
	VideoURL   string        `json:"video_url"`
	TakenAt    int64         `json:"taken_at_timestamp"`
	Caption    captionEdges  `json:"edge_media_to_caption"`
	Children   *sidecarEdges `json:"edge_sidecar_to_children"`
}

type captionEdges struct {
	Edges []struct {
		Node struct {
			Text string `json:"text"`
		} `json:"node"`
	} `json:"edges"`
}

type sidecarEdges struct {
	Edges []nodeEdge `json:"edges"`
}

type loginResponse struct {
	Authenticated     bool   `json:"authenticated"`
	User              bool   `json:"user"`
	UserID            string `json:"userId"`
	TwoFactorRequired bool   `json:"two_factor_required"`
	Message           string `json:"message"`
	CheckpointURL     string `json:"checkpoint_url"`
	Status            string `json:"status"`
}

type currentUserResponse struct {
	User *struct {
		Username string `json:"username"`
	} `json:"user"`
	Status string `json:"status"`
}
