package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("zh"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslateChinese(t *testing.T) {
	ctx := initLang(t, "zh")

	if got := T(ctx, "InsufficientPoints"); got != "积分不足" {
		t.Errorf("T(InsufficientPoints) = %q, want '积分不足'", got)
	}
	if got := T(ctx, "AlreadyCompleted"); got != "该考试记录已提交" {
		t.Errorf("T(AlreadyCompleted) = %q", got)
	}
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NotFound"); got != "Not found" {
		t.Errorf("T(NotFound) = %q, want 'Not found'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "QuestionsImported", 1); got != "Imported 1 question" {
		t.Errorf("Tp(QuestionsImported, 1) = %q", got)
	}
	if got := Tp(ctx, "QuestionsImported", 5); got != "Imported 5 questions" {
		t.Errorf("Tp(QuestionsImported, 5) = %q", got)
	}

	zh := initLang(t, "zh")
	if got := Tp(zh, "QuestionsImported", 3); got != "成功导入 3 道题目" {
		t.Errorf("Tp(QuestionsImported, 3) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "InsufficientPointsDetail", map[string]any{"Cost": 50})
	if got != "Not enough points: starting an exam costs 50 points" {
		t.Errorf("Td(InsufficientPointsDetail) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestMiddlewareAcceptLanguage(t *testing.T) {
	if err := Init("zh"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	tests := []struct {
		header string
		want   string
	}{
		{"", "资源不存在"},
		{"en-US,en;q=0.9", "Not found"},
		{"fr-FR", "资源不存在"},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			var got string
			h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = T(r.Context(), "NotFound")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Accept-Language", tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("Accept-Language %q: got %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}
