package output

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// Table 简单表格输出，列宽按字符数计算
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
}

// NewTable 创建表格
func NewTable(headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	return &Table{headers: headers, widths: widths}
}

// AddRow 添加行，多余的列被忽略
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	for i := range row {
		if i < len(cells) {
			row[i] = cells[i]
		}
		if n := utf8.RuneCountInString(row[i]); n > t.widths[i] {
			t.widths[i] = n
		}
	}
	t.rows = append(t.rows, row)
}

// Len 数据行数
func (t *Table) Len() int {
	return len(t.rows)
}

// Render 渲染表格到Stdout
func (t *Table) Render() {
	header := color.New(color.FgCyan, color.Bold)
	for i, h := range t.headers {
		header.Fprint(Stdout, pad(h, t.widths[i]))
	}
	fmt.Fprintln(Stdout)

	for _, w := range t.widths {
		fmt.Fprint(Stdout, strings.Repeat("-", w)+"  ")
	}
	fmt.Fprintln(Stdout)

	for _, row := range t.rows {
		for i, cell := range row {
			fmt.Fprint(Stdout, pad(cell, t.widths[i]))
		}
		fmt.Fprintln(Stdout)
	}
}

func pad(s string, width int) string {
	return s + strings.Repeat(" ", width-utf8.RuneCountInString(s)+2)
}
