package keyword

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"latin words", "invoice processing pipeline", "invoice processing pipeline"},
		{"numbers kept", "2024 revenue: 1500", "2024 revenue 1500"},
		{"single latin char kept", "a b c", "a b c"},
		{"hangul nouns", "문서 분석 결과", "문서 분석 결과"},
		{"stoplist dropped", "이것은 것 수 등 때 곳 문서", "이것은 문서"},
		{"suffix attaches to previous", "데이터 들 분석", "데이터들 분석"},
		{"leading suffix stands alone", "들 데이터", "들 데이터"},
		{"han kept", "漢字 text", "漢字 text"},
		{"punctuation split", "hello,world!안녕", "hello world 안녕"},
		{"mixed scripts split", "GPT4모델", "GPT 4 모델"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.in))
		})
	}
}

func TestExtract_Idempotent(t *testing.T) {
	inputs := []string{
		"invoice 2024 처리 결과 데이터 들",
		"것 수 문서들 분석, GPT4!",
		"## Sheet: 매출 | 1500 | 漢字",
	}
	for _, in := range inputs {
		once := Extract(in)
		assert.Equal(t, once, Extract(once), "input %q", in)
	}
}
