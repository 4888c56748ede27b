package domain

// ChallengeParams are the values the target page declares when it renders a verification widget.
type ChallengeParams struct {
	URL      string `json:"url"`
	SiteKey  string `json:"sitekey"`
	Action   string `json:"action"`
	CData    string `json:"cData"`
	PageData string `json:"chlPageData"`
}

func (p ChallengeParams) Empty() bool {
	return p.SiteKey == ""
}

type ChallengeSolution struct {
	Success bool
	Token   string
}
