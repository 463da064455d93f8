// Copyright 2024 The go-xlang Authors
// This file is part of go-xlang.
//
// go-xlang is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-xlang is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-xlang. If not, see <http://www.gnu.org/licenses/>.

package vm

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/xlang-project/go-xlang/lang/bytecode"
)

// TryRepr renders a value for diagnostics. Compound values recurse with a
// cycle guard; unprintable variants fall back to their type name.
func TryRepr(ref *Ref) string {
	return repr(ref, make(map[*Ref]bool))
}

func repr(ref *Ref, seen map[*Ref]bool) string {
	if seen[ref] {
		return "..."
	}
	seen[ref] = true
	defer delete(seen, ref)

	switch v := ref.Value().(type) {
	case *Null:
		return "null"
	case *Int:
		return fmt.Sprintf("%d", v.Val)
	case *Float:
		return fmt.Sprintf("%g", v.Val)
	case *Bool:
		return fmt.Sprintf("%t", v.Val)
	case *String:
		return fmt.Sprintf("%q", v.Val)
	case *Bytes:
		return fmt.Sprintf("0x%x", v.Val)
	case *Range:
		return fmt.Sprintf("%d..%d", v.Start, v.End)
	case *KeyVal:
		return fmt.Sprintf("%s: %s", repr(v.Key, seen), repr(v.Val, seen))
	case *Named:
		return fmt.Sprintf("%s => %s", repr(v.Key, seen), repr(v.Val, seen))
	case *Wrapper:
		return fmt.Sprintf("wrap(%s)", repr(v.Inner, seen))
	case *Tuple:
		parts := make([]string, len(v.Values))
		for i, elem := range v.Values {
			parts[i] = repr(elem, seen)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case *Set:
		return fmt.Sprintf("set(%s | %s)", repr(v.Collection, seen), repr(v.Filter, seen))
	case *Lambda:
		return fmt.Sprintf("lambda %s", v.Signature)
	case *Instructions:
		return fmt.Sprintf("instructions %x", v.Pkg.Fingerprint()[:8])
	case *CLambda:
		return fmt.Sprintf("clambda %s", v.Library)
	}
	return ref.TypeName()
}

// FormatContext renders the executor's frame stack and operand stack.
func (ex *Executor) FormatContext() string {
	var out strings.Builder
	fmt.Fprintf(&out, "frames (%d):\n", ex.context.Depth())
	for i, frame := range ex.context.frames {
		names := make([]string, 0, len(frame.vars))
		for name := range frame.vars {
			names = append(names, name)
		}
		fmt.Fprintf(&out, "  [%d] %-8s base=%d vars=%s\n", i, frame.typ, ex.context.stackPointers[i], strings.Join(names, ","))
	}
	fmt.Fprintf(&out, "operand stack (%d):\n", len(ex.stack))
	for i := len(ex.stack) - 1; i >= 0; i-- {
		obj := ex.stack[i]
		if obj.IsValue() {
			fmt.Fprintf(&out, "  [%d] %s\n", i, TryRepr(obj.Value))
		} else {
			fmt.Fprintf(&out, "  [%d] lastip ip=%d new=%t\n", i, obj.IP.ReturnIP, obj.IP.NewInstructions)
		}
	}
	return out.String()
}

// ReprCurrentCode extracts the source span for the current instruction from
// the debug map, highlighting the offending line with a caret marker and
// contextLines lines of context around it.
func (ex *Executor) ReprCurrentCode(contextLines int) string {
	dim := color.New(color.Faint).SprintFunc()
	warn := color.New(color.FgYellow, color.Italic).SprintFunc()

	pkg, err := ex.currentPackage()
	if err != nil {
		return warn("[no instructions available]")
	}
	debug, ok := pkg.DebugInfoAt(uint64(ex.ip))
	if pkg.Source == nil || !ok {
		return warn("[source information not available]")
	}
	source := *pkg.Source

	lines := strings.Split(source, "\n")
	lineNum, colNum := locate(source, int(debug.CodePosition))

	start := lineNum - contextLines
	if start < 0 {
		start = 0
	}
	end := lineNum + contextLines
	if end >= len(lines) {
		end = len(lines) - 1
	}

	highlight := color.New(color.FgHiWhite, color.Bold, color.Underline).SprintFunc()
	mark := color.New(color.FgRed, color.Bold).SprintFunc()

	var out strings.Builder
	for i := start; i <= end; i++ {
		prefix := fmt.Sprintf("%4d | ", i+1)
		out.WriteString(dim(prefix))
		if i == lineNum {
			out.WriteString(highlight(lines[i]))
			out.WriteByte('\n')
			out.WriteString(strings.Repeat(" ", len(prefix)+colNum))
			out.WriteString(mark("^"))
		} else {
			out.WriteString(lines[i])
		}
		out.WriteByte('\n')
	}

	if ip := ex.ip; ip >= 0 && ip < len(pkg.Code) {
		at := ip
		if in, err := bytecode.Decode(pkg.Code, &at); err == nil {
			fmt.Fprintf(&out, "current instruction: %s (ip %d)\n", in, ip)
		}
	}
	return out.String()
}

// locate converts a byte offset in source to a zero-based line and rune
// column.
func locate(source string, bytePos int) (line, col int) {
	if bytePos > len(source) {
		bytePos = len(source)
	}
	consumed := 0
	for i, l := range strings.Split(source, "\n") {
		lineBytes := len(l) + 1
		if consumed+lineBytes > bytePos {
			offset := bytePos - consumed
			if offset > len(l) {
				offset = len(l)
			}
			return i, len([]rune(l[:offset]))
		}
		consumed += lineBytes
	}
	return strings.Count(source, "\n"), 0
}

// FormatDump renders the pool snapshot shown with uncaught errors: the main
// error, a coroutine table, and per-coroutine context and source spans.
func (p *CoroutinePool) FormatDump(cause error) string {
	title := color.New(color.FgRed, color.Bold).SprintFunc()
	section := color.New(color.FgBlue, color.Bold).SprintFunc()

	var out strings.Builder
	out.WriteString(title("** coroutine pool error **"))
	out.WriteByte('\n')
	fmt.Fprintf(&out, "%s %v\n\n", section("cause:"), cause)

	table := tablewriter.NewWriter(&out)
	table.SetHeader([]string{"ID", "Signature", "Status", "IP", "Stack", "Frames"})
	for _, entry := range p.executors {
		lambda := entry.ex.entry()
		table.Append([]string{
			fmt.Sprintf("%d", entry.id),
			lambda.Signature,
			lambda.Status.String(),
			fmt.Sprintf("%d", entry.ex.ip),
			fmt.Sprintf("%d", len(entry.ex.stack)),
			fmt.Sprintf("%d", entry.ex.context.Depth()),
		})
	}
	table.Render()

	for _, entry := range p.executors {
		fmt.Fprintf(&out, "\n%s coroutine %d (%s)\n", section("->"), entry.id, entry.ex.entry().Signature)
		out.WriteString(entry.ex.FormatContext())
		out.WriteString(section("=== code ==="))
		out.WriteByte('\n')
		out.WriteString(entry.ex.ReprCurrentCode(2))
	}
	return out.String()
}
