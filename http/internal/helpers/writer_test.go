package helpers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCommitWriter(t *testing.T) {
	t.Run("write implies 200", func(t *testing.T) {
		var got []int
		rec := httptest.NewRecorder()
		cw := NewCommitWriter(rec, func(status int) {
			got = append(got, status)
			rec.Header().Set("X-Committed", "yes")
		})

		_, _ = cw.Write([]byte("hello"))
		_, _ = cw.Write([]byte(" world"))
		cw.Finish()

		if len(got) != 1 || got[0] != http.StatusOK {
			t.Errorf("commit calls = %v, want [200]", got)
		}
		if rec.Header().Get("X-Committed") != "yes" {
			t.Error("headers set during commit must reach the client")
		}
		if rec.Body.String() != "hello world" {
			t.Errorf("body = %q", rec.Body.String())
		}
	})

	t.Run("explicit status", func(t *testing.T) {
		var got []int
		rec := httptest.NewRecorder()
		cw := NewCommitWriter(rec, func(status int) { got = append(got, status) })

		cw.WriteHeader(http.StatusCreated)
		cw.WriteHeader(http.StatusInternalServerError)

		if len(got) != 1 || got[0] != http.StatusCreated {
			t.Errorf("commit calls = %v, want [201]", got)
		}
		if rec.Code != http.StatusCreated {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("finish without write", func(t *testing.T) {
		var got []int
		rec := httptest.NewRecorder()
		cw := NewCommitWriter(rec, func(status int) { got = append(got, status) })

		if cw.Committed() {
			t.Fatal("fresh writer reports committed")
		}
		cw.Finish()
		if !cw.Committed() || len(got) != 1 {
			t.Errorf("Finish must commit once, got %v", got)
		}
	})

	t.Run("flush commits", func(t *testing.T) {
		var got []int
		rec := httptest.NewRecorder()
		cw := NewCommitWriter(rec, func(status int) { got = append(got, status) })

		cw.Flush()
		if len(got) != 1 || !rec.Flushed {
			t.Errorf("commit calls = %v, flushed = %v", got, rec.Flushed)
		}
	})
}
