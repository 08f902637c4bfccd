package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jobscan/jobscan/pkg/models"
	"github.com/jobscan/jobscan/pkg/parse"
)

// otherSchemeRe matches values with a scheme that is not followed by "//", e.g. mailto: or tel:
var otherSchemeRe = regexp.MustCompile(`(?i)^[a-z][a-z0-9+.\-]*:[^/]`)

// genericLabels are link texts that say nothing about the target
var genericLabels = map[string]bool{
	"click here": true, "here": true, "link": true, "view": true, "download": true,
	"open": true, "details": true, "more": true, "read more": true, "visit": true,
}

type roleRule struct {
	role     models.LinkRole
	keywords []string
}

// roleRules are checked in order against the link label and its surrounding text
var roleRules = []roleRule{
	{models.LinkAdmitCard, []string{"admit card", "hall ticket", "call letter", "admit-card"}},
	{models.LinkResult, []string{"result", "merit list", "selection list", "final list"}},
	{models.LinkApplyOnline, []string{"apply", "registration", "register", "application form"}},
	{models.LinkOfficialNotification, []string{"notification", "advertisement", "advt", "notice", "corrigendum"}},
	{models.LinkOfficialWebsite, []string{"official website", "official site", "website", "home page"}},
}

// extractLinks collects role-tagged links from a block. Every URL is resolved
// against the page and sanitized; labels, anchors and unsafe values are dropped.
func extractLinks(node *goquery.Selection, pageURL *url.URL) []models.Link {
	var links []models.Link
	seen := make(map[string]bool)

	node.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || (otherSchemeRe.MatchString(href) && !strings.HasPrefix(strings.ToLower(href), "http")) {
			return
		}
		resolved, ok := parse.Resolve(pageURL, href)
		if !ok || !strings.Contains(resolved, "://") {
			return
		}

		label := collapse(a.Text())
		role := classifyLink(label, contextText(a), resolved)
		key := string(role) + "|" + resolved
		if seen[key] {
			return
		}
		seen[key] = true
		links = append(links, models.Link{Role: role, Label: label, URL: resolved})
	})
	return links
}

// contextText is the text of the row or item a link sits in, used when the label is generic
func contextText(a *goquery.Selection) string {
	parent := a.Closest("tr, li, p, dd, dt")
	if parent.Length() == 0 {
		return ""
	}
	text := collapse(parent.Text())
	if prev := parent.Prev(); goquery.NodeName(parent) == "dd" && goquery.NodeName(prev) == "dt" {
		text = collapse(prev.Text()) + " " + text
	}
	return text
}

func classifyLink(label, context, target string) models.LinkRole {
	lowerLabel := strings.ToLower(label)
	if role, ok := matchRole(lowerLabel); ok {
		return role
	}
	if genericLabels[lowerLabel] || lowerLabel == "" || strings.HasPrefix(lowerLabel, "view") || strings.HasPrefix(lowerLabel, "download") {
		if role, ok := matchRole(strings.ToLower(context)); ok {
			return role
		}
	}
	if strings.HasSuffix(strings.ToLower(strings.SplitN(target, "?", 2)[0]), ".pdf") {
		return models.LinkOfficialNotification
	}
	return models.LinkOther
}

func matchRole(text string) (models.LinkRole, bool) {
	if text == "" {
		return "", false
	}
	for _, rule := range roleRules {
		if containsAny(text, rule.keywords...) {
			return rule.role, true
		}
	}
	return "", false
}
