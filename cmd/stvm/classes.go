package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KentBeck/LivingObjects-sub000/vm"
)

var classesShowSelectors bool

func init() {
	classesCmd.Flags().BoolVarP(&classesShowSelectors, "selectors", "s", false, "list the selectors each class defines")
}

var classesCmd = &cobra.Command{
	Use:   "classes",
	Short: "Print the bootstrap class hierarchy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := newVM()
		if err != nil {
			return err
		}
		return printHierarchy(cmd.OutOrStdout(), v, v.ObjectClass, 0)
	},
}

// printHierarchy prints class and its subclasses, skipping metaclasses.
func printHierarchy(w io.Writer, v *vm.VM, class vm.Value, depth int) error {
	nameColor.Fprintf(w, "%s%s", strings.Repeat("  ", depth), v.ClassName(class))
	format, err := v.ClassFormat(class)
	if err != nil {
		return err
	}
	if format != vm.FormatPointer {
		fmt.Fprintf(w, " (%s)", format)
	}
	ivars, err := v.InstVarNames(class)
	if err != nil {
		return err
	}
	if len(ivars) > 0 {
		fmt.Fprintf(w, " [%s]", strings.Join(ivars, " "))
	}
	fmt.Fprintln(w)

	if classesShowSelectors {
		sels, err := v.Selectors(class)
		if err != nil {
			return err
		}
		if len(sels) > 0 {
			fmt.Fprintf(w, "%s  > %s\n", strings.Repeat("  ", depth), strings.Join(sels, " "))
		}
	}

	subs, err := v.Subclasses(class)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if v.ClassOf(sub) == v.MetaclassClass {
			continue
		}
		if err := printHierarchy(w, v, sub, depth+1); err != nil {
			return err
		}
	}
	return nil
}
