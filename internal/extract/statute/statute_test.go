package statute

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
)

const actHTML = `<html><body>
<table><tr><td class="actHd">Arbitration (Singapore) Act 2007</td></tr>
<tr><td class="longTitle">An Act to  provide for arbitration.</td></tr></table>
<div class="body">
  <div class="prov1">
    <table><tr><td class="prov1Hdr" id="pr2-">Interpretation</td></tr>
    <tr><td class="prov1Txt"><strong>2.</strong> In this Act, unless the context otherwise requires
      <div class="amendNote">[Act 5 of 2020 wef 01/02/2020]</div></td></tr></table>
  </div>
  <div class="prov1">
    <table><tr><td class="prov1Hdr" id="pr1-">Short title</td></tr>
    <tr><td class="prov1Txt"><strong>1.</strong> This Act is the Arbitration Act 2007.</td></tr></table>
  </div>
  <div class="prov1">
    <table><tr><td class="prov1Hdr" id="pr10A-">Powers of court</td></tr>
    <tr><td class="prov1Txt">The court may order ...</td></tr></table>
  </div>
</div>
</body></html>`

func TestExtract(t *testing.T) {
	t.Parallel()

	record, err := New("sg-acts", "Singapore").Extract([]byte(actHTML), "/Act/ASA2007")
	require.NoError(t, err)
	require.Equal(t, "ASA2007", record.NaturalKey)
	require.Equal(t, "Arbitration (Singapore) Act 2007", record.Title)
	require.Equal(t, "Singapore", record.Country)
	require.Equal(t, "An Act to provide for arbitration.", record.Fields["description"])
	require.NotContains(t, record.Body, "wef 01/02/2020")

	sections, ok := record.Fields["sections"].([]Section)
	require.True(t, ok)
	require.Len(t, sections, 3)
	require.Equal(t, "Section 1. Short title", sections[0].Title)
	require.Equal(t, "1. This Act is the Arbitration Act 2007.", sections[0].Content)
	require.Equal(t, "Section 2. Interpretation", sections[1].Title)
	require.Equal(t, "Section 10A. Powers of court", sections[2].Title)
	require.Equal(t, "pr10A-", sections[2].HeaderID)
	require.NotContains(t, record.Fields, "parent_source_id")

	require.Len(t, record.Parts, 3)
	require.Equal(t, "ASA2007#Section 1. Short title", record.Parts[0].NaturalKey)
	require.Equal(t, "ASA2007#Section 10A. Powers of court", record.Parts[2].NaturalKey)
	require.Equal(t, SectionKey("ASA2007", sections[1].Title), record.Parts[1].NaturalKey)
	require.Equal(t, sections[0].Content, record.Parts[0].Body)
	require.Equal(t, "/Act/ASA2007", record.Parts[0].Locator)
	require.Equal(t, "10A", record.Parts[2].Fields["section_no"])
	require.Equal(t, "Arbitration (Singapore) Act 2007", record.Parts[2].Fields["act_title"])
}

const slHTML = `<html><body>
<div class="legis-title"><span>Arbitration (Fees) Regulations</span></div>
<div class="legis-links"><a href="/Act/ASA2007?ProvIds=pr50-">Authorising Act</a></div>
<div class="body">
  <div class="prov1">
    <table><tr><td class="prov1Hdr" id="pr1-">Citation</td></tr>
    <tr><td class="prov1Txt"><strong>1.</strong> These Regulations are the Arbitration (Fees) Regulations.</td></tr></table>
  </div>
</div>
</body></html>`

func TestExtractSubsidiaryLinksParentAct(t *testing.T) {
	t.Parallel()

	record, err := New("sg-subsidiary", "Singapore").Extract([]byte(slHTML), "/SL/ASA2007-RG1")
	require.NoError(t, err)
	require.Equal(t, "ASA2007-RG1", record.NaturalKey)
	require.Equal(t, "Arbitration (Fees) Regulations", record.Title)
	require.Equal(t, "ASA2007", record.Fields["parent_source_id"])
	require.Len(t, record.Parts, 1)
	require.Equal(t, "ASA2007-RG1#Section 1. Citation", record.Parts[0].NaturalKey)
	require.Equal(t, "ASA2007", record.Parts[0].Fields["parent_source_id"])
}

func TestExtractUnknownSubsidiaryTitle(t *testing.T) {
	t.Parallel()

	html := `<html><body><div class="prov1"><table><tr><td class="prov1Hdr">Citation</td></tr>
<tr><td class="prov1Txt">Text.</td></tr></table></div></body></html>`
	record, err := New("sg-subsidiary", "").Extract([]byte(html), "/SL/X1")
	require.NoError(t, err)
	require.Equal(t, "UNKNOWN SL (/SL/X1)", record.Title)
	require.Equal(t, "X1#Citation", record.Parts[0].NaturalKey)
}

func TestExtractNoSections(t *testing.T) {
	t.Parallel()

	record, err := New("sg-acts", "").Extract([]byte(`<html><body><table><tr><td class="actHd">Empty Act</td></tr></table></body></html>`), "/Act/EA1")
	require.ErrorIs(t, err, crawler.ErrExtractionEmpty)
	require.Equal(t, "EA1", record.NaturalKey)
	require.Equal(t, "Empty Act", record.Title)
}

func TestSourceID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ASA2007", SourceID("/Act/ASA2007"))
	require.Equal(t, "ASA2007", SourceID("/Act/ASA2007?WholeDoc=1"))
	require.Equal(t, "S123-2020", SourceID("https://sso.agc.gov.sg/SL/S123-2020/"))
	require.Empty(t, SourceID(""))
}
