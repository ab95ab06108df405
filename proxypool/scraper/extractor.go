package scraper

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"proxyfinder/proxypool/model"
)

// octet matches 0-255 without leading zeros beyond a single digit.
const octet = `(?:25[0-5]|2[0-4][0-9]|1\d{2}|[1-9]?\d)`

var (
	ipPortPattern = regexp.MustCompile(`\b(?:` + octet + `\.){3}` + octet + `:\d+\b`)
	ipPattern     = regexp.MustCompile(`\b(?:` + octet + `\.){3}` + octet + `\b`)
	portPattern   = regexp.MustCompile(`\b\d{2,5}\b`)
)

// Extract turns a source body into candidates using the given strategy.
// The result is deduplicated within the source and keeps first-seen order.
func Extract(strategy model.Strategy, body []byte) ([]model.Candidate, error) {
	switch strategy {
	case model.StrategyLineList:
		return extractLineList(body), nil
	case model.StrategyTableRegex:
		return extractTableRegex(body)
	case model.StrategyTablePairedIPPort:
		return extractPairedIPPort(body)
	default:
		return nil, fmt.Errorf("unknown extraction strategy %q", strategy)
	}
}

// candidateSet accumulates unique candidates in insertion order.
type candidateSet struct {
	seen  map[model.Candidate]struct{}
	items []model.Candidate
}

func newCandidateSet() *candidateSet {
	return &candidateSet{seen: make(map[model.Candidate]struct{})}
}

func (s *candidateSet) add(c model.Candidate) bool {
	if _, ok := s.seen[c]; ok {
		return false
	}
	s.seen[c] = struct{}{}
	s.items = append(s.items, c)
	return true
}

func extractLineList(body []byte) []model.Candidate {
	set := newCandidateSet()
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, ":") {
			continue
		}
		set.add(model.Candidate(line))
	}
	return set.items
}

// extractTableRegex scans the page text for ip:port pairs. When the joined text
// yields nothing, every <td> is scanned on its own.
func extractTableRegex(body []byte) ([]model.Candidate, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	set := newCandidateSet()
	for _, m := range ipPortPattern.FindAllString(plainText(root, " "), -1) {
		set.add(model.Candidate(m))
	}
	if len(set.items) > 0 {
		return set.items, nil
	}

	doc := goquery.NewDocumentFromNode(root)
	doc.Find("td").Each(func(_ int, cell *goquery.Selection) {
		if m := ipPortPattern.FindString(cellText(cell, "")); m != "" {
			set.add(model.Candidate(m))
		}
	})
	return set.items, nil
}

// extractPairedIPPort handles tables where IP and port live in adjacent cells.
// Only the first cell holding an IP is considered per row.
func extractPairedIPPort(body []byte) ([]model.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	set := newCandidateSet()
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		for i := 0; i < cells.Length(); i++ {
			ip := ipPattern.FindString(cellText(cells.Eq(i), " "))
			if ip == "" {
				continue
			}
			if i+1 < cells.Length() {
				if port := portPattern.FindString(cellText(cells.Eq(i+1), " ")); port != "" {
					set.add(model.Candidate(ip + ":" + port))
				}
			}
			return
		}
	})
	return set.items, nil
}

func cellText(sel *goquery.Selection, sep string) string {
	if len(sel.Nodes) == 0 {
		return ""
	}
	return plainText(sel.Nodes[0], sep)
}

// plainText flattens the trimmed text nodes below n, joined with sep.
// A space keeps values from adjacent elements apart; an empty separator
// glues fragments split across nested inline markup back together.
func plainText(n *html.Node, sep string) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, sep)
}
