// Package dedup reconciles extracted candidates against stored job records.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/jobscan/jobscan/pkg/models"
	"github.com/jobscan/jobscan/pkg/utils"
)

const identityKeyVersion = "jk1:"

var folder = cases.Fold()

// normalize case-folds s and collapses runs of whitespace
func normalize(s string) string {
	return strings.Join(strings.Fields(folder.String(s)), " ")
}

// ComputeIdentityKey derives the identity of a candidate from its source, its
// normalized title and a coarse hash of its eligibility and fee entry names.
// Values are left out of the coarse hash so that an amount or age range change
// keeps the key and shows up as a content change instead. Pure: no I/O, no clock.
func ComputeIdentityKey(c *models.JobCandidate) models.IdentityKey {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(c.SourceID)))
	h.Write([]byte{0})
	if c.Title.IsKnown() {
		h.Write([]byte(normalize(c.Title.Value)))
	}
	h.Write([]byte{0})
	h.Write([]byte(coarseHash(c.Eligibility, c.Fees)))
	return models.IdentityKey(identityKeyVersion + hex.EncodeToString(h.Sum(nil)))
}

func coarseHash(eligibility, fees models.MappingField) string {
	names := make([]string, 0, len(eligibility.Entries)+len(fees.Entries))
	for _, e := range eligibility.Entries {
		names = append(names, "e:"+normalize(e.Name))
	}
	for _, e := range fees.Entries {
		names = append(names, "f:"+normalize(e.Name))
	}
	sort.Strings(names)
	return utils.CalculateStringSHA256(strings.Join(names, "\n"))[:16]
}

type digestLink struct {
	Role models.LinkRole `json:"r"`
	URL  string          `json:"u"`
}

type digestInput struct {
	Eligibility        models.MappingField `json:"e"`
	Fees               models.MappingField `json:"f"`
	ApplicationProcess models.StepsField   `json:"a"`
	Links              []digestLink        `json:"l"`
}

// ContentDigest hashes the mutable fields of a candidate: eligibility, fees,
// application process and links. Whitespace is collapsed; link order is ignored.
func ContentDigest(c *models.JobCandidate) string {
	in := digestInput{
		Eligibility:        collapseMapping(c.Eligibility),
		Fees:               collapseMapping(c.Fees),
		ApplicationProcess: models.StepsField{State: c.ApplicationProcess.State},
	}
	for _, s := range c.ApplicationProcess.Steps {
		in.ApplicationProcess.Steps = append(in.ApplicationProcess.Steps, collapse(s))
	}
	for _, l := range c.Links {
		in.Links = append(in.Links, digestLink{Role: l.Role, URL: strings.TrimSpace(l.URL)})
	}
	sort.Slice(in.Links, func(i, j int) bool {
		if in.Links[i].Role != in.Links[j].Role {
			return in.Links[i].Role < in.Links[j].Role
		}
		return in.Links[i].URL < in.Links[j].URL
	})

	// Marshal cannot fail: every field is a string, slice or FieldState with a valid name.
	raw, _ := json.Marshal(in)
	return utils.CalculateBytesSHA256(raw)
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }

func collapseMapping(f models.MappingField) models.MappingField {
	out := models.MappingField{State: f.State}
	for _, e := range f.Entries {
		out.Entries = append(out.Entries, models.Entry{Name: collapse(e.Name), Value: collapse(e.Value)})
	}
	return out
}
