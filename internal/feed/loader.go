package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/John-Robertt/epicfree/internal/domain"
)

// maxFeedBytes 限制 feed 大小（正常在几十 KB）。
const maxFeedBytes = 4 << 20

// documentSchema 只约束顶层形状：桶是对象数组（null 视为空），updated 是字符串。
// 条目字段的宽松解析（旧字段别名、无效日期）交给 domain.Game。
const documentSchema = `{
  "type": "object",
  "properties": {
    "updated":     {"type": ["string", "null"]},
    "currentFree": {"type": ["array", "null"], "items": {"type": "object"}},
    "upcoming":    {"type": ["array", "null"], "items": {"type": "object"}},
    "past":        {"type": ["array", "null"], "items": {"type": "object"}}
  }
}`

var schema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
	if err != nil {
		panic(fmt.Sprintf("feed schema 无效：%v", err))
	}
	return s
}()

// StatusError 表示 feed 接口返回了非 2xx。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feed %s 返回 HTTP %d", e.URL, e.StatusCode)
}

// ErrInvalidDocument 表示 feed 不是合法 JSON 或形状不符合约定。
var ErrInvalidDocument = errors.New("feed 文档无效")

// Fetcher 抽象“取一次 feed”；Board 只依赖它。
type Fetcher interface {
	Fetch(ctx context.Context) (domain.Feed, error)
}

// Loader 通过 HTTP 取 feed。serve 模式下 Client 的 Transport 是缓存 worker。
type Loader struct {
	URL    string
	Client *http.Client
}

func (l Loader) Fetch(ctx context.Context) (domain.Feed, error) {
	c := l.Client
	if c == nil {
		c = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return domain.Feed{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return domain.Feed{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Feed{}, &StatusError{URL: l.URL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return domain.Feed{}, err
	}
	return Decode(body)
}

// Decode 校验并解析 feed 文档。
func Decode(body []byte) (domain.Feed, error) {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return domain.Feed{}, fmt.Errorf("%w：%v", ErrInvalidDocument, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return domain.Feed{}, fmt.Errorf("%w：%s", ErrInvalidDocument, strings.Join(msgs, "; "))
	}

	var f domain.Feed
	if err := json.Unmarshal(body, &f); err != nil {
		return domain.Feed{}, fmt.Errorf("%w：%v", ErrInvalidDocument, err)
	}
	return f, nil
}
