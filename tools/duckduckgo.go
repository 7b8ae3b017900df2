package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	safe "github.com/eminarican/safetypes"
	"golang.org/x/net/html"
)

type SearchParam struct {
	Query  string
	Region string
}

type ClientOption struct {
	Endpoint  string
	Referrer  string
	UserAgent string
	Timeout   time.Duration
}

var defaultClientOption = &ClientOption{
	Endpoint:  "https://html.duckduckgo.com/html",
	Referrer:  "https://duckduckgo.com",
	UserAgent: `Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36`,
	Timeout:   5 * time.Second,
}

func NewSearchParam(query, region string) (*SearchParam, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, errors.New("search query is empty")
	}
	if region == "" {
		region = "wt-wt"
	}

	return &SearchParam{Query: q, Region: region}, nil
}

func (param *SearchParam) buildURL(endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Add("q", param.Query)
	q.Add("kl", param.Region)
	u.RawQuery = q.Encode()

	return u, nil
}

func buildRequest(ctx context.Context, param *SearchParam, opt *ClientOption) (*http.Request, error) {
	u, err := param.buildURL(opt.Endpoint)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	req.Header.Add("Referrer", opt.Referrer)
	req.Header.Add("User-Agent", opt.UserAgent)
	req.Header.Add("Cookie", "kl="+param.Region)

	return req, nil
}

type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

func parse(r io.Reader) safe.Result[*[]SearchResult] {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return safe.Err[*[]SearchResult](err.Error())
	}

	result := make([]SearchResult, 0)
	doc.Find(".result").Each(func(i int, s *goquery.Selection) {
		item := SearchResult{
			Title:   strings.TrimSpace(s.Find(".result__title a").Text()),
			Link:    extractLink(s.Find(".result__url").AttrOr("href", "")),
			Snippet: strings.TrimSpace(removeHtmlTagsFromText(s.Find(".result__snippet").Text())),
		}
		if item.Link == "" {
			return
		}
		result = append(result, item)
	})

	return safe.AsResult[*[]SearchResult](&result, nil)
}

func removeHtmlTags(node *html.Node, buf *bytes.Buffer) {
	if node.Type == html.TextNode {
		buf.WriteString(node.Data)
	}

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		removeHtmlTags(child, buf)
	}
}

func removeHtmlTagsFromText(text string) string {
	node, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return text
	}

	buf := &bytes.Buffer{}
	removeHtmlTags(node, buf)

	return buf.String()
}

// extractLink pulls the target URL out of a result redirect href, e.g.
//
//	//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F&rut=...  ->  https://go.dev/doc/
func extractLink(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}

	q := u.Query()
	if q.Has("uddg") {
		return q.Get("uddg")
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		if strings.HasSuffix(u.Host, "duckduckgo.com") {
			return ""
		}
		return u.String()
	}

	return ""
}

func SearchWithOption(ctx context.Context, param *SearchParam, opt *ClientOption) safe.Result[*[]SearchResult] {
	c := &http.Client{Timeout: opt.Timeout}
	req, err := buildRequest(ctx, param, opt)
	if err != nil {
		return safe.Err[*[]SearchResult](err.Error())
	}

	resp, err := c.Do(req)
	if err != nil {
		return safe.Err[*[]SearchResult](err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return safe.Err[*[]SearchResult](fmt.Sprintf("search returned status %d", resp.StatusCode))
	}

	return parse(resp.Body)
}

func Search(ctx context.Context, param *SearchParam) safe.Result[*[]SearchResult] {
	return SearchWithOption(ctx, param, defaultClientOption)
}
