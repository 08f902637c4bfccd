package extract

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobscan/jobscan/pkg/detect"
	"github.com/jobscan/jobscan/pkg/models"
	"github.com/jobscan/jobscan/pkg/parse"
	"github.com/jobscan/jobscan/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestExtractor() *Extractor {
	return NewExtractor(detect.NewDetector(testLogger()), testLogger())
}

func loadDoc(t *testing.T, fixture, pageURL string, strategy models.StrategyTag) *models.RawDocument {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("testdata", fixture))
	require.NoError(t, err)
	return &models.RawDocument{
		SourceID:    "test",
		Strategy:    strategy,
		RetrievedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Pages:       []models.Page{{URL: pageURL, StatusCode: 200, Body: body}},
	}
}

func extractAll(t *testing.T, doc *models.RawDocument, src models.Source) []*models.JobCandidate {
	t.Helper()
	it, err := newTestExtractor().Extract(doc, src)
	require.NoError(t, err)
	return it.Collect()
}

func TestExtract_StaticPage_AllFields(t *testing.T) {
	doc := loadDoc(t, "detail_page.html", "https://ssc.gov.in/notices/cgl", models.StrategyStaticPage)
	src := models.Source{ID: "ssc", Strategy: models.StrategyStaticPage, BlockSelector: "#post"}

	candidates := extractAll(t, doc, src)
	require.Len(t, candidates, 1)
	c := candidates[0]

	assert.Equal(t, "ssc", c.SourceID)
	assert.Equal(t, "Staff Selection Commission CGL 2024", c.Title.Value)
	assert.Equal(t, models.FieldKnown, c.Title.State)

	require.Equal(t, models.FieldKnown, c.Eligibility.State)
	age, ok := c.Eligibility.Get("Age Limit")
	assert.True(t, ok)
	assert.Equal(t, "18-32 years", age)
	qual, _ := c.Eligibility.Get("Qualification")
	assert.Equal(t, "Bachelor's degree from a recognised university", qual)

	require.Equal(t, models.FieldKnown, c.Fees.State)
	assert.Equal(t, []models.Entry{{Name: "General", Value: "₹100"}, {Name: "SC/ST", Value: "Nil"}}, c.Fees.Entries)

	require.Equal(t, models.FieldKnown, c.ApplicationProcess.State)
	assert.Equal(t, []string{"Visit the official website", "Fill the application form"}, c.ApplicationProcess.Steps)

	assert.Equal(t, []models.Link{
		{Role: models.LinkApplyOnline, Label: "Click Here", URL: "https://ssc.gov.in/apply"},
		{Role: models.LinkOfficialNotification, Label: "Download Notification", URL: "https://ssc.gov.in/docs/cgl-2024.pdf"},
		{Role: models.LinkOther, Label: "Back to top", URL: "https://ssc.gov.in/notices/cgl#top"},
	}, c.Links)

	assert.Empty(t, c.Degraded)
	assert.Contains(t, c.Summary, "Staff Selection Commission CGL 2024")
	assert.Equal(t, "rules/static-page", c.ExtractedBy)
}

func TestExtract_LinksAreSanitizerFixedPoints(t *testing.T) {
	doc := loadDoc(t, "detail_page.html", "https://ssc.gov.in/notices/cgl", models.StrategyStaticPage)
	candidates := extractAll(t, doc, models.Source{ID: "ssc", BlockSelector: "#post"})
	require.NotEmpty(t, candidates)

	for _, l := range candidates[0].Links {
		assert.Equal(t, l.URL, parse.Sanitize(l.URL), "link %q is not sanitized", l.URL)
		assert.True(t, parse.IsNavigable(l.URL))
	}
}

func TestExtract_MalformedPostingKeepsUnknownEligibility(t *testing.T) {
	doc := loadDoc(t, "listing_page.html", "https://jobs.example.gov/latest", models.StrategyPaginatedListing)
	src := models.Source{ID: "board", Strategy: models.StrategyPaginatedListing, BlockSelector: "div.job"}

	candidates := extractAll(t, doc, src)
	require.Len(t, candidates, 2)

	wellFormed := candidates[0]
	assert.Equal(t, "Junior Engineer Recruitment", wellFormed.Title.Value)
	assert.Equal(t, models.FieldKnown, wellFormed.Eligibility.State)
	assert.Equal(t, []models.Entry{
		{Name: "Age Limit", Value: "18-30 years"},
		{Name: "Requirement", Value: "Diploma in Civil Engineering"},
	}, wellFormed.Eligibility.Entries)
	fee, _ := wellFormed.Fees.Get("Application Fee")
	assert.Equal(t, "₹200", fee)
	assert.Equal(t, []models.Link{{Role: models.LinkApplyOnline, Label: "Apply Online", URL: "https://jobs.example.gov/je/apply"}}, wellFormed.Links)

	malformed := candidates[1]
	assert.Equal(t, "Assistant Librarian Vacancy", malformed.Title.Value)
	assert.Equal(t, models.FieldUnknown, malformed.Eligibility.State, "missing eligibility must be unknown, not empty")
	assert.Equal(t, models.FieldKnown, malformed.Fees.State)
	assert.Equal(t, models.FieldUnknown, malformed.ApplicationProcess.State)
	require.Len(t, malformed.Links, 1)
	assert.Equal(t, models.LinkOfficialNotification, malformed.Links[0].Role)
}

func TestExtract_ListingAutoDetectionAndSkipTitles(t *testing.T) {
	doc := loadDoc(t, "s3waas_table.html", "https://district.example.gov.in/recruitment/", models.StrategyPaginatedListing)
	src := models.Source{
		ID:            "district",
		Strategy:      models.StrategyPaginatedListing,
		BlockSelector: "auto",
		SkipTitles:    []string{"(?i)^archive"},
	}

	it, err := newTestExtractor().Extract(doc, src)
	require.NoError(t, err)
	candidates := it.Collect()

	require.Len(t, candidates, 2)
	assert.Equal(t, 3, it.Blocks())
	assert.Equal(t, 1, it.Skipped())
	assert.Equal(t, "Recruitment of Staff Nurse 2024", candidates[0].Title.Value)
	assert.Equal(t, "Walk-in interview for Data Entry Operator", candidates[1].Title.Value)

	require.Len(t, candidates[0].Links, 1)
	assert.Equal(t, models.LinkOfficialNotification, candidates[0].Links[0].Role)
	assert.Equal(t, "https://district.example.gov.in/uploads/notice1.pdf", candidates[0].Links[0].URL)
	assert.Equal(t, models.FieldUnknown, candidates[0].Fees.State)
}

func TestExtract_ListingAcrossPages(t *testing.T) {
	doc := loadDoc(t, "listing_page.html", "https://jobs.example.gov/latest", models.StrategyPaginatedListing)
	doc.Pages = append(doc.Pages, models.Page{
		URL:  "https://jobs.example.gov/latest?page=2",
		Body: []byte(`<html><body><div class="job"><h2>Stenographer Grade D</h2><p>Application Fee: Nil</p></div></body></html>`),
	})

	candidates := extractAll(t, doc, models.Source{ID: "board", BlockSelector: "div.job"})
	require.Len(t, candidates, 3)

	steno := candidates[2]
	assert.Equal(t, "Stenographer Grade D", steno.Title.Value)
	assert.Equal(t, models.FieldEmpty, steno.Fees.State, "a fee stated as Nil is empty, not unknown")
	assert.Equal(t, "https://jobs.example.gov/latest?page=2", steno.SourceURL)
}

func TestExtract_ListingWithoutEntriesIsNotAnError(t *testing.T) {
	doc := &models.RawDocument{
		Strategy: models.StrategyPaginatedListing,
		Pages:    []models.Page{{URL: "https://empty.example.gov/jobs", Body: []byte(`<html><body><p>No vacancies at present.</p></body></html>`)}},
	}

	it, err := newTestExtractor().Extract(doc, models.Source{ID: "empty", BlockSelector: "auto"})
	require.NoError(t, err)
	c, ok := it.Next()
	assert.False(t, ok)
	assert.Nil(t, c)
}

func TestExtract_MarkdownDocument(t *testing.T) {
	doc := loadDoc(t, "openings.md", "https://raw.example.org/careers/openings.md", models.StrategyMarkdownDocument)
	src := models.Source{ID: "md", Strategy: models.StrategyMarkdownDocument}

	candidates := extractAll(t, doc, src)
	require.Len(t, candidates, 2)

	analyst := candidates[0]
	assert.Equal(t, "Data Analyst", analyst.Title.Value)
	assert.Equal(t, []models.Entry{
		{Name: "Age", Value: "21-35"},
		{Name: "Requirement", Value: "Degree in Statistics"},
	}, analyst.Eligibility.Entries)
	assert.Equal(t, models.FieldEmpty, analyst.Fees.State)
	assert.Equal(t, []string{"Register on the portal", "Upload documents"}, analyst.ApplicationProcess.Steps)
	assert.Equal(t, []models.Link{{Role: models.LinkApplyOnline, Label: "Apply Online", URL: "https://careers.example.org/apply/da"}}, analyst.Links)

	officer := candidates[1]
	assert.Equal(t, "Field Officer", officer.Title.Value)
	assert.Equal(t, []models.Entry{{Name: "Requirement", Value: "Graduate in any discipline"}}, officer.Eligibility.Entries)
	assert.Equal(t, []models.Entry{{Name: "Application fee", Value: "300 INR"}}, officer.Fees.Entries)
	assert.Equal(t, models.FieldUnknown, officer.ApplicationProcess.State)
}

func TestExtract_MarkdownSinglePosting(t *testing.T) {
	doc := loadDoc(t, "single_posting.md", "https://pwd.example.gov.in/notices/je-2024.md", models.StrategyMarkdownDocument)
	src := models.Source{ID: "pwd", Strategy: models.StrategyMarkdownDocument}

	candidates := extractAll(t, doc, src)
	require.Len(t, candidates, 1, "field headings must not split a posting")
	c := candidates[0]

	assert.Equal(t, "Junior Engineer Recruitment 2024", c.Title.Value)
	assert.Equal(t, []models.Entry{
		{Name: "Age Limit", Value: "18-30 years"},
		{Name: "Requirement", Value: "Diploma in Civil Engineering"},
	}, c.Eligibility.Entries)
	assert.Equal(t, []models.Entry{{Name: "General", Value: "₹500"}, {Name: "SC/ST", Value: "Nil"}}, c.Fees.Entries)
	assert.Equal(t, []string{"Register on the recruitment portal", "Pay the fee online"}, c.ApplicationProcess.Steps)
	assert.Equal(t, []models.Link{{Role: models.LinkApplyOnline, Label: "Apply Online", URL: "https://pwd.example.gov.in/apply"}}, c.Links)
	assert.Empty(t, c.Degraded)
}

func TestExtract_NoneValuesAreEmpty(t *testing.T) {
	page := func(eligibility, fee string) *models.RawDocument {
		return &models.RawDocument{
			Strategy: models.StrategyStaticPage,
			Pages: []models.Page{{URL: "https://x.example.gov/clerk", Body: []byte(`<html><body><div id="post">
<h1>Clerk Recruitment</h1>
<h2>Eligibility</h2>
<p>` + eligibility + `</p>
<h2>Application Fee</h2>
<p>` + fee + `</p>
</div></body></html>`)}},
		}
	}
	src := models.Source{ID: "x", BlockSelector: "#post"}

	for _, none := range []string{"Nil", "N/A", "n/a", "NA", "None", "Not applicable", "Not Required"} {
		t.Run("eligibility "+none, func(t *testing.T) {
			candidates := extractAll(t, page(none, "General: ₹100"), src)
			require.Len(t, candidates, 1)
			c := candidates[0]
			assert.Equal(t, models.FieldEmpty, c.Eligibility.State)
			assert.Empty(t, c.Eligibility.Entries)
			assert.Equal(t, []models.Entry{{Name: "General", Value: "₹100"}}, c.Fees.Entries)
			assert.Empty(t, c.Degraded)
		})
		t.Run("fees "+none, func(t *testing.T) {
			candidates := extractAll(t, page("Age Limit: 18-27 years", none), src)
			require.Len(t, candidates, 1)
			c := candidates[0]
			assert.Equal(t, models.FieldEmpty, c.Fees.State)
			assert.Empty(t, c.Fees.Entries)
			assert.Equal(t, models.FieldKnown, c.Eligibility.State)
			assert.Empty(t, c.Degraded)
		})
	}
}

func TestExtract_EmptySectionDegradesField(t *testing.T) {
	doc := &models.RawDocument{
		Strategy: models.StrategyStaticPage,
		Pages: []models.Page{{URL: "https://x.example.gov/p", Body: []byte(`<html><body><div id="post">
<h1>Peon Recruitment</h1>
<h3>Eligibility</h3>
<h3>Fees</h3>
<p>No fee</p>
</div></body></html>`)}},
	}

	candidates := extractAll(t, doc, models.Source{ID: "x", BlockSelector: "#post"})
	require.Len(t, candidates, 1)
	c := candidates[0]
	assert.Equal(t, models.FieldUnknown, c.Eligibility.State)
	assert.Contains(t, c.Degraded, FieldEligibility)
	assert.Equal(t, models.FieldEmpty, c.Fees.State)
}

func TestExtract_UnknownStrategy(t *testing.T) {
	doc := &models.RawDocument{Strategy: "rss-feed"}
	_, err := newTestExtractor().Extract(doc, models.Source{ID: "x"})
	assert.ErrorIs(t, err, utils.ErrParsing)

	_, err = newTestExtractor().Extract(nil, models.Source{ID: "x"})
	assert.ErrorIs(t, err, utils.ErrParsing)
}

func TestCandidateIterator_NotRestartable(t *testing.T) {
	doc := loadDoc(t, "listing_page.html", "https://jobs.example.gov/latest", models.StrategyPaginatedListing)
	it, err := newTestExtractor().Extract(doc, models.Source{ID: "board", BlockSelector: "div.job"})
	require.NoError(t, err)

	assert.Len(t, it.Collect(), 2)
	_, ok := it.Next()
	assert.False(t, ok)
	assert.Empty(t, it.Collect())
}

func TestExtract_Deterministic(t *testing.T) {
	doc := loadDoc(t, "detail_page.html", "https://ssc.gov.in/notices/cgl", models.StrategyStaticPage)
	src := models.Source{ID: "ssc", BlockSelector: "#post"}

	first := extractAll(t, doc, src)
	second := extractAll(t, doc, src)
	assert.Equal(t, first, second)
}
