package notify

import (
	"fmt"
	"html/template"
	"strings"
)

var digestTmpl = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
<h2>新商品が{{len .Products}}件見つかりました（{{.Site}}）</h2>
<table cellpadding="8">
{{range .Products}}
<tr>
  {{if .ImageURL}}<td><img src="{{.ImageURL}}" alt="" width="96"></td>{{end}}
  <td>
    <strong>{{.Name}}</strong><br>
    {{if .Price}}{{.Price}}円（税込）<br>{{end}}
    {{if .ReleaseDate}}発売予定: {{.ReleaseDate}}<br>{{end}}
    {{if .SourceURL}}<a href="{{.SourceURL}}">商品ページ</a>{{end}}
  </td>
</tr>
{{end}}
</table>
<p style="color: #888; font-size: 12px;">GachaHub 新商品通知</p>
</body>
</html>`))

type digestData struct {
	Site     string
	Products []digestProduct
}

type digestProduct struct {
	Name        string
	ImageURL    string
	ReleaseDate string
	Price       *int
	SourceURL   string
}

// RenderDigest renders the HTML digest for one run's new products and
// returns the subject line and body.
func RenderDigest(site string, products []Product) (subject, body string, err error) {
	data := digestData{Site: site}
	for _, p := range products {
		data.Products = append(data.Products, digestProduct{
			Name:        p.Name,
			ImageURL:    p.ImageURL,
			ReleaseDate: p.ReleaseDate,
			Price:       p.Price,
			SourceURL:   p.SourceURL,
		})
	}

	var sb strings.Builder
	if err := digestTmpl.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("notify: render digest: %w", err)
	}
	subject = fmt.Sprintf("【GachaHub】新商品 %d件のお知らせ（%s）", len(products), site)
	return subject, sb.String(), nil
}
