package parser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/aliexpress-credential-scraper/internal/models"
)

func dataURI(seed string) string {
	return "data:image/png;base64," + strings.Repeat(seed, 30)
}

func TestParse(t *testing.T) {
	p := NewCredentialParser()

	t.Run("full page", func(t *testing.T) {
		certA := dataURI("iVBORw0KGgoA")
		certB := dataURI("iVBORw0KGgoB")
		html := fmt.Sprintf(`
<html><body>
  <div class="credential-container">
    <img class="certificate-image" src="%s"/>
    <img class="certificate-image" src="%s"/>
    <img class="certificate-image" src="%s"/>
    <img src="https://cdn.example.com/cert.png"/>
  </div>
  <dl>
    <dt>Company Name</dt><dd>Shenzhen Widget Co., Ltd.</dd>
    <dt>License Number</dt><dd>91440300MA5ABC123X</dd>
    <dt>Legal Representative</dt><dd>Zhang Wei</dd>
    <dt>Registered Address</dt><dd>Nanshan District, Shenzhen</dd>
  </dl>
</body></html>`, certA, certA, certB)

		page, err := p.Parse(html, "12345", "https://example.com/page")
		require.NoError(t, err)

		require.Len(t, page.Images, 2)
		assert.Equal(t, "12345", page.Images[0].StoreID)
		assert.Equal(t, models.FormatPNG, page.Images[0].Format)
		assert.Equal(t, "dom", page.Images[0].JSONPath)
		assert.Equal(t, "https://example.com/page", page.Images[0].SourceURL)
		assert.NotEqual(t, page.Images[0].ContentHash, page.Images[1].ContentHash)

		assert.Equal(t, "Shenzhen Widget Co., Ltd.", page.Seller.CompanyName)
		assert.Equal(t, "91440300MA5ABC123X", page.Seller.LicenseNumber)
		assert.Equal(t, "Zhang Wei", page.Seller.LegalPerson)
		assert.Equal(t, "Nanshan District, Shenzhen", page.Seller.RegisteredAddr)
	})

	t.Run("chinese labels", func(t *testing.T) {
		html := `
<dl>
  <dt>企业名称</dt><dd>深圳市小部件有限公司</dd>
  <dt>统一社会信用代码</dt><dd>91440300MA5XYZ789A</dd>
  <dt>法定代表人</dt><dd>李娜</dd>
  <dt>地址</dt><dd>广东省深圳市</dd>
</dl>`

		page, err := p.Parse(html, "1", "")
		require.NoError(t, err)
		assert.Equal(t, "深圳市小部件有限公司", page.Seller.CompanyName)
		assert.Equal(t, "91440300MA5XYZ789A", page.Seller.LicenseNumber)
		assert.Equal(t, "李娜", page.Seller.LegalPerson)
		assert.Equal(t, "广东省深圳市", page.Seller.RegisteredAddr)
	})

	t.Run("span label value layout", func(t *testing.T) {
		html := `
<div class="info-item"><span class="label">Company Name</span><span class="value">Acme Trading Ltd</span></div>
<div class="info-item"><span class="label">License No</span><span class="value">REG-42</span></div>`

		page, err := p.Parse(html, "1", "")
		require.NoError(t, err)
		assert.Equal(t, "Acme Trading Ltd", page.Seller.CompanyName)
		assert.Equal(t, "REG-42", page.Seller.LicenseNumber)
	})

	t.Run("first value wins", func(t *testing.T) {
		html := `
<dl>
  <dt>Company Name</dt><dd>First Co</dd>
  <dt>Company Name</dt><dd>Second Co</dd>
</dl>`

		page, err := p.Parse(html, "1", "")
		require.NoError(t, err)
		assert.Equal(t, "First Co", page.Seller.CompanyName)
	})

	t.Run("empty page", func(t *testing.T) {
		page, err := p.Parse("<html><body></body></html>", "1", "")
		require.NoError(t, err)
		assert.Empty(t, page.Images)
		assert.Equal(t, SellerInfo{}, page.Seller)
	})

	t.Run("generic data uri selector catches untagged images", func(t *testing.T) {
		html := fmt.Sprintf(`<div><img src="%s"/></div>`, dataURI("R0lGODlhAQAB"))

		page, err := p.Parse(html, "1", "")
		require.NoError(t, err)
		require.Len(t, page.Images, 1)
	})
}
