package render

import (
	"embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.New("render").Funcs(template.FuncMap{
	"countdownEnded": func() template.HTML { return template.HTML(CountdownEndedHTML) },
}).ParseFS(templatesFS, "templates/*.html"))

// execute 渲染命名模板。模板与数据类型都在包内固定，失败只可能来自模板本身。
func execute(name string, data any) string {
	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, name, data); err != nil {
		panic(fmt.Sprintf("render: 模板 %s 执行失败：%v", name, err))
	}
	return b.String()
}
