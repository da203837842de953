package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KentBeck/LivingObjects-sub000/vm"
	"github.com/KentBeck/LivingObjects-sub000/vm/bundle"
)

var sampleCmd = &cobra.Command{
	Use:   "sample <out.cbor>",
	Short: "Write a sample bundle computing [:x | x * x] value: (Math factorial: 5)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := bundle.WriteFile(args[0], sampleBundle()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
		return nil
	},
}

func sampleBundle() *bundle.Bundle {
	// factorial: n
	//     n <= 1 ifTrue: [^1].
	//     ^n * (self factorial: n - 1)
	fact := vm.NewMethodBuilder("factorial:", 1)
	fact.SetTempNames("n")
	bc := fact.Bytecode()
	recurse := bc.NewLabel()
	bc.PushTemp(0)
	fact.PushConstant(vm.IntLiteral(1))
	fact.SendSelector("<=", 1)
	bc.EmitJump(vm.OpJumpFalse, recurse)
	fact.PushConstant(vm.IntLiteral(1))
	bc.ReturnTop()
	bc.Mark(recurse)
	bc.PushTemp(0)
	bc.PushSelf()
	bc.PushTemp(0)
	fact.PushConstant(vm.IntLiteral(1))
	fact.SendSelector("-", 1)
	fact.SendSelector("factorial:", 1)
	fact.SendSelector("*", 1)
	bc.ReturnTop()

	math := &vm.ClassSpec{
		Name:         "Math",
		Superclass:   "Object",
		ClassMethods: []*vm.MethodSpec{fact.Build()},
	}

	square := vm.NewBlockBuilder(0, 1)
	square.Bytecode().PushTemp(0)
	square.Bytecode().PushTemp(0)
	square.SendSelector("*", 1)
	square.Bytecode().ReturnTop()

	entry := vm.NewMethodBuilder("doIt", 0)
	entry.Bytecode().CreateBlock(entry.AddBlock(square.Build()), 1)
	entry.PushConstant(vm.GlobalLiteral("Math"))
	entry.PushConstant(vm.IntLiteral(5))
	entry.SendSelector("factorial:", 1)
	entry.SendSelector("value:", 1)
	entry.Bytecode().ReturnTop()

	return bundle.New([]*vm.ClassSpec{math}, entry.Build())
}
