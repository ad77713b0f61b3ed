package backend

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient("received 503 from upstream"))
	assert.True(t, IsTransient("connection reset by peer"))
	assert.False(t, IsTransient("invalid api key"))
}

func TestIsModelUnavailable(t *testing.T) {
	assert.True(t, IsModelUnavailable("model 'gpt-5-ultra' does not exist"))
	assert.True(t, IsModelUnavailable("you do not have access to this model, upgrade your plan"))
	assert.False(t, IsModelUnavailable("rate limit exceeded"))
}

func TestIsContextOverflow(t *testing.T) {
	assert.True(t, IsContextOverflow("this model's maximum context length is 8192 tokens"))
	assert.False(t, IsContextOverflow("connection reset"))
}

func TestClassify_PrefersModelUnavailableOverTransient(t *testing.T) {
	err := Classify("429: model does not exist", errors.New("boom"))
	require.NotNil(t, err)
	assert.Equal(t, ErrModelUnavailable, err.Kind)
}

func TestClassify_NoMatchReturnsNil(t *testing.T) {
	assert.Nil(t, Classify("totally normal response", nil))
}

func TestScanPaymentTxHash_Direct(t *testing.T) {
	hash := ScanPaymentTxHash("payment confirmed: 0x" + repeatHex(64))
	assert.Equal(t, "0x"+repeatHex(64), hash)
}

func TestScanPaymentTxHash_Nested(t *testing.T) {
	inner := "tx 0x" + repeatHex(64)
	encoded := base64Encode(inner)
	hash := ScanPaymentTxHash("payload: " + encoded)
	assert.Equal(t, "0x"+repeatHex(64), hash)
}

func TestScanPaymentTxHash_NoneFound(t *testing.T) {
	assert.Equal(t, "", ScanPaymentTxHash("nothing interesting here"))
}

func TestRetryTransient_StopsOnNonTransient(t *testing.T) {
	calls := 0
	_, err := RetryTransient(context.Background(), 3, func() (CompletionResult, error) {
		calls++
		return CompletionResult{}, &Error{Kind: ErrModelUnavailable, Err: errors.New("nope")}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryTransient_RetriesTransient(t *testing.T) {
	calls := 0
	_, err := RetryTransient(context.Background(), 3, func() (CompletionResult, error) {
		calls++
		if calls < 2 {
			return CompletionResult{}, &Error{Kind: ErrTransient, Err: errors.New("flaky")}
		}
		return CompletionResult{Text: "ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithModelFallback_FallsBackOnModelUnavailable(t *testing.T) {
	attempted := []string{}
	res, err := WithModelFallback("primary", "fallback", func(model string) (CompletionResult, error) {
		attempted = append(attempted, model)
		if model == "primary" {
			return CompletionResult{}, &Error{Kind: ErrModelUnavailable, Err: errors.New("gone")}
		}
		return CompletionResult{Text: "from fallback", ModelID: model}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", res.Text)
	assert.Equal(t, []string{"primary", "fallback"}, attempted)
}

func TestWithModelFallback_NoFallbackOnOtherErrors(t *testing.T) {
	_, err := WithModelFallback("primary", "fallback", func(model string) (CompletionResult, error) {
		return CompletionResult{}, &Error{Kind: ErrTransient, Err: errors.New("down")}
	})
	require.Error(t, err)
}

func TestParseNDJSON_SkipsMalformedLines(t *testing.T) {
	var decoded [][]byte
	ParseNDJSON([]byte("{\"a\":1}\nnot json\n\n{\"b\":2}\n"), func(line []byte) {
		decoded = append(decoded, line)
	})
	require.Len(t, decoded, 2)
}

func TestSpawnWithTimeouts_FirstByteTimeout(t *testing.T) {
	cfg := TimeoutConfig{FirstByteMs: 50, IdleMs: 5000, TotalMs: 5000}
	result, err := SpawnWithTimeouts(context.Background(), cfg, "sleep", []string{"5"}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "first_byte", result.TimedOut)
}

func TestSpawnWithTimeouts_NormalExit(t *testing.T) {
	cfg := DefaultTimeoutConfig()
	var lines []string
	result, err := SpawnWithTimeouts(context.Background(), cfg, "printf", []string{"hello\nworld\n"}, "", func(l string) {
		lines = append(lines, l)
	})
	require.NoError(t, err)
	assert.Empty(t, result.TimedOut)
	assert.Equal(t, []string{"hello", "world"}, lines)
}

func TestSpawnWithTimeouts_CancellationTerminates(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	cfg := TimeoutConfig{FirstByteMs: 5000, IdleMs: 5000, TotalMs: 5000}
	result, err := SpawnWithTimeouts(ctx, cfg, "sleep", []string{"5"}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", result.TimedOut)
}

func repeatHex(n int) string {
	out := make([]byte, n)
	pattern := "0123456789abcdef"
	for i := range out {
		out[i] = pattern[i%len(pattern)]
	}
	return string(out)
}

func base64Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}
