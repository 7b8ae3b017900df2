package tools

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"
)

const webSearchLimit = 3

// WebSearch queries DuckDuckGo and returns the top results as json
type WebSearch struct {
	// Option overrides the default client settings, used in tests
	Option *ClientOption
}

var _ Function = WebSearch{}

func (t WebSearch) Name() string {
	return "web_search"
}

func (t WebSearch) Description() string {
	return "This is DuckDuckGo. Use this tool to search the internet when you need access to real time information."
}

func (t WebSearch) Parameters() map[string]any {
	return properties([]string{"query"}, map[string]any{
		"query":  stringProperty("A query to search the web for"),
		"region": stringProperty("The region to use for the search, e.g. `us-en`. Default to `wt-wt` if it can not be inferred."),
	})
}

func (t WebSearch) Call(ctx context.Context, input string) (string, error) {
	param, err := NewSearchParam(argument(input, "query"), argument(input, "region"))
	if err != nil {
		return "", err
	}
	opt := t.Option
	if opt == nil {
		opt = defaultClientOption
	}

	r := SearchWithOption(ctx, param, opt)
	if r.IsErr() {
		return "", r.Error()
	}
	res := *r.Unwrap()
	log.WithField("query", param.Query).WithField("results", len(res)).Info("web search")
	if len(res) == 0 {
		return "no results found", nil
	}
	if len(res) > webSearchLimit {
		res = res[:webSearchLimit]
	}

	out, err := json.Marshal(res)
	if err != nil {
		return "", err
	}

	return string(out), nil
}
