package output_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/herald/internal/output"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

func TestFormatError_Nil(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, output.FormatError(&buf, nil, output.FormatText))
	assert.Empty(t, buf.String())
}

func TestFormatError_JSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		code     string
		exitCode int
		detail   string
	}{
		{
			name:     "taxonomy error",
			err:      heralderr.WithDetail(heralderr.ErrNotEnoughBalance, "need 1.5 DOT"),
			code:     "NOT_ENOUGH_BALANCE",
			exitCode: heralderr.ExitPermission,
			detail:   "need 1.5 DOT",
		},
		{
			name:     "plain error",
			err:      errors.New("boom"),
			code:     "GENERAL_ERROR",
			exitCode: heralderr.ExitGeneral,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			require.NoError(t, output.FormatError(&buf, tt.err, output.FormatJSON))

			var decoded output.ErrorOutput
			require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
			assert.Equal(t, tt.code, decoded.Error.Code)
			assert.Equal(t, tt.exitCode, decoded.Error.ExitCode)
			assert.Equal(t, tt.detail, decoded.Error.Details["detail"])
		})
	}
}

func TestFormatError_Text(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer

	err := heralderr.WithSuggestion(
		heralderr.WithDetails(heralderr.ErrInternal, map[string]string{"network": "etherium", "detail": "no such network"}),
		`did you mean "ethereum"?`)
	require.NoError(t, output.FormatError(&buf, err, output.FormatText))

	expected := "Error: internal error\n" +
		"  Details:\n" +
		"    detail: no such network\n" +
		"    network: etherium\n" +
		"  Suggestion: did you mean \"ethereum\"?\n"
	assert.Equal(t, expected, buf.String())
}

func TestFormatErrors(t *testing.T) {
	t.Parallel()
	errs := []error{heralderr.ErrNotEnoughBalance}
	warnings := []error{heralderr.ErrNotEnoughExistentialDeposit}

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, output.FormatErrors(&buf, errs, warnings, output.FormatJSON))

		var decoded output.ErrorsOutput
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		require.Len(t, decoded.Errors, 1)
		require.Len(t, decoded.Warnings, 1)
		assert.Equal(t, "NOT_ENOUGH_BALANCE", decoded.Errors[0].Code)
		assert.Equal(t, "NOT_ENOUGH_EXISTENTIAL_DEPOSIT", decoded.Warnings[0].Code)
	})

	t.Run("json warnings only", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, output.FormatErrors(&buf, nil, warnings, output.FormatJSON))
		assert.Contains(t, buf.String(), `"errors": []`)
	})

	t.Run("text", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, output.FormatErrors(&buf, errs, warnings, output.FormatText))
		assert.Contains(t, buf.String(), "Error: insufficient balance for amount plus fee\n")
		assert.Contains(t, buf.String(), "Warning: remaining balance is at or below the chain minimum balance\n")
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, output.FormatErrors(&buf, nil, nil, output.FormatJSON))
		assert.Empty(t, buf.String())
	})
}

func TestFormatSuccess(t *testing.T) {
	t.Parallel()

	var jsonBuf bytes.Buffer
	require.NoError(t, output.FormatSuccess(&jsonBuf, "account imported", output.FormatJSON))
	assert.JSONEq(t, `{"status":"success","message":"account imported"}`, jsonBuf.String())

	var textBuf bytes.Buffer
	require.NoError(t, output.FormatSuccess(&textBuf, "account imported", output.FormatText))
	assert.Contains(t, textBuf.String(), "account imported")
}
