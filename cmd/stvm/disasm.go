package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KentBeck/LivingObjects-sub000/vm"
	"github.com/KentBeck/LivingObjects-sub000/vm/bundle"
)

var disasmCmd = &cobra.Command{
	Use:   "disasm <bundle.cbor>",
	Short: "Disassemble every method in a bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		b, err := bundle.ReadFile(args[0])
		if err != nil {
			return err
		}
		return disassembleBundle(cmd.OutOrStdout(), b)
	},
}

func disassembleBundle(w io.Writer, b *bundle.Bundle) error {
	classes, err := b.ClassSpecs()
	if err != nil {
		return err
	}
	for _, c := range classes {
		super := c.Superclass
		if super == "" {
			super = "nil"
		}
		nameColor.Fprintf(w, "%s", c.Name)
		fmt.Fprintf(w, " < %s", super)
		if len(c.InstanceVars) > 0 {
			fmt.Fprintf(w, " [%s]", strings.Join(c.InstanceVars, " "))
		}
		fmt.Fprintln(w)
		for _, m := range c.Methods {
			if err := disassembleMethod(w, c.Name+">>", m, 1); err != nil {
				return err
			}
		}
		for _, m := range c.ClassMethods {
			if err := disassembleMethod(w, c.Name+" class>>", m, 1); err != nil {
				return err
			}
		}
	}
	entry, err := b.EntrySpec()
	if err != nil {
		return err
	}
	if entry != nil {
		nameColor.Fprintln(w, "entry")
		return disassembleMethod(w, "", entry, 1)
	}
	return nil
}

func disassembleMethod(w io.Writer, prefix string, m *vm.MethodSpec, depth int) error {
	indent := strings.Repeat("  ", depth)
	name := prefix + m.Selector
	if m.Selector == "" {
		name = prefix + "[]"
	}
	fmt.Fprintf(w, "%s%s (args %d, temps %d", indent, name, m.ArgCount, m.TempCount)
	if m.HomeTempCount > 0 {
		fmt.Fprintf(w, ", home temps %d", m.HomeTempCount)
	}
	if m.Primitive != 0 {
		fmt.Fprintf(w, ", primitive %d", m.Primitive)
	}
	fmt.Fprintln(w, ")")

	if len(m.Bytecodes) > 0 {
		if _, err := vm.StackDepth(m.Bytecodes); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		for _, line := range strings.Split(strings.TrimRight(vm.Disassemble(m.Bytecodes), "\n"), "\n") {
			fmt.Fprintf(w, "%s  %s\n", indent, line)
		}
	}
	for i, l := range m.Literals {
		if l.Kind == vm.LitBlock {
			fmt.Fprintf(w, "%s  literal %d:\n", indent, i)
			if err := disassembleMethod(w, "", l.Block, depth+2); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(w, "%s  literal %d: %s\n", indent, i, describeLiteral(l))
	}
	return nil
}

func describeLiteral(l vm.Literal) string {
	switch l.Kind {
	case vm.LitInt:
		return fmt.Sprintf("%d", l.Int)
	case vm.LitFloat:
		return fmt.Sprintf("%.1f", l.Float)
	case vm.LitSymbol:
		return "#" + l.Text
	case vm.LitString:
		return fmt.Sprintf("'%s'", l.Text)
	case vm.LitGlobal:
		return l.Text
	case vm.LitArray:
		parts := make([]string, len(l.Elements))
		for i, e := range l.Elements {
			parts[i] = describeLiteral(e)
		}
		return "#(" + strings.Join(parts, " ") + ")"
	default:
		return l.Kind.String()
	}
}
