package output_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mrz1836/herald/internal/output"
)

func TestTable_Render(t *testing.T) {
	t.Parallel()
	table := output.NewTable("ID", "STATUS", "AMOUNT")
	table.SetAlign(2, output.AlignRight)
	table.AddRow("contract.ethereum.internal.1", "success", "1.5")
	table.AddRow("extrinsic.westend.internal.2", "fail", "10")

	expected := "" +
		"ID                            STATUS   AMOUNT\n" +
		"----------------------------  -------  ------\n" +
		"contract.ethereum.internal.1  success     1.5\n" +
		"extrinsic.westend.internal.2  fail         10\n"
	assert.Equal(t, expected, table.String())
	assert.Equal(t, 2, table.Len())
}

func TestTable_NoHeader(t *testing.T) {
	t.Parallel()
	table := output.NewTable("A", "B")
	table.SetNoHeader(true)
	table.SetSeparator(" | ")
	table.AddRow("x", "y")

	assert.Equal(t, "x | y\n", table.String())
}

func TestTable_Empty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, output.NewTable().String())
}

func TestTable_MaxWidth(t *testing.T) {
	t.Parallel()
	hash := "0x" + strings.Repeat("ab", 32)
	table := output.NewTable("HASH").SetMaxWidth(0, 11)
	table.AddRow(hash)
	table.AddRow("0xshort")

	lines := strings.Split(strings.TrimRight(table.String(), "\n"), "\n")
	assert.Equal(t, "0xaba…babab", lines[2])
	assert.Equal(t, "0xshort", lines[3])
	assert.Equal(t, "-----------", lines[1], "width counts runes, not bytes")
}

func TestTable_RaggedRows(t *testing.T) {
	t.Parallel()
	table := output.NewTable("A")
	table.AddRow("1", "extra")

	assert.Equal(t, "A\n-  -----\n1  extra\n", table.String())
}
