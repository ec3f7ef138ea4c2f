package kernel

import (
	"github.com/joshuapare/kestrel/cpu"
	"github.com/joshuapare/kestrel/machine"
)

// DemoPrints is how many characters each demo worker prints.
const DemoPrints = 500

// Demo returns the stock workload: process A starts workers B and C, joins
// both, starts KERNEL-MAIN and exits; the user process INIT exercises its
// stack and sleeps.
func Demo() Options {
	worker := func(name, text string) machine.Program {
		code := machine.Repeat(cpu.RDX, DemoPrints, 0, machine.Print(text))
		return machine.Program{Name: name, Code: append(code, machine.Exit())}
	}

	initCode := []machine.Instr{
		machine.Set(cpu.RSI, 42),
		machine.Push(cpu.RSI),
		machine.Pop(cpu.RDI),
	}
	initCode = append(initCode, machine.Repeat(cpu.R8, 3, len(initCode), machine.Print("u"), machine.Sleep(10))...)
	initCode = append(initCode, machine.Print("\n"), machine.Exit())

	return Options{
		Programs: []machine.Program{
			{Name: "A", Code: []machine.Instr{
				machine.SpawnThread("B", cpu.RBX),
				machine.SpawnThread("C", cpu.RCX),
				machine.Join(cpu.RBX),
				machine.Join(cpu.RCX),
				machine.SpawnProcess("KERNEL-MAIN", cpu.RAX),
				machine.Exit(),
			}},
			worker("B", "B"),
			worker("C", "C"),
			{Name: "KERNEL-MAIN", Code: []machine.Instr{
				machine.Print("\nkestrel: kernel main\n"),
				machine.Sleep(50),
				machine.Print("kestrel: kernel main done\n"),
				machine.Exit(),
			}},
			{Name: "INIT", User: true, Code: initCode},
		},
		Startup: []string{"A", "INIT"},
	}
}
