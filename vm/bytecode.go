package vm

import (
	"encoding/binary"
	"fmt"
	"strings"

	"fortio.org/safecast"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction. Operands follow the
// opcode byte as little-endian 32-bit words.
type Opcode byte

const (
	OpPushLiteral  Opcode = 0  // push literal (index)
	OpPushInstVar  Opcode = 1  // push receiver slot (offset)
	OpPushTemp     Opcode = 2  // push temporary (offset)
	OpPushSelf     Opcode = 3  // push receiver
	OpStoreInstVar Opcode = 4  // store top into receiver slot (offset), no pop
	OpStoreTemp    Opcode = 5  // store top into temporary (offset), no pop
	OpSend         Opcode = 6  // send message (selector literal index, argc)
	OpReturnTop    Opcode = 7  // return top of stack to sender
	OpJump         Opcode = 8  // jump to absolute target
	OpJumpTrue     Opcode = 9  // pop, jump if true
	OpJumpFalse    Opcode = 10 // pop, jump if false
	OpPop          Opcode = 11 // discard top of stack
	OpDup          Opcode = 12 // duplicate top of stack
	OpCreateBlock  Opcode = 13 // push closure (block literal index, param count)
	OpExecuteBlock Opcode = 14 // pop args and block, activate block (argc)
)

const opcodeLimit = 15

const operandSize = 4

// OpcodeInfo contains metadata about an opcode.
type OpcodeInfo struct {
	Name     string
	Operands int // number of 32-bit operands
	// StackEffect is the net change in stack depth; variadic opcodes
	// (sends, block execution) report the effect with zero arguments.
	StackEffect int
}

var opcodeTable = [opcodeLimit]OpcodeInfo{
	OpPushLiteral:  {"PUSH_LITERAL", 1, 1},
	OpPushInstVar:  {"PUSH_INST_VAR", 1, 1},
	OpPushTemp:     {"PUSH_TEMP", 1, 1},
	OpPushSelf:     {"PUSH_SELF", 0, 1},
	OpStoreInstVar: {"STORE_INST_VAR", 1, 0},
	OpStoreTemp:    {"STORE_TEMP", 1, 0},
	OpSend:         {"SEND", 2, 0},
	OpReturnTop:    {"RETURN_TOP", 0, -1},
	OpJump:         {"JUMP", 1, 0},
	OpJumpTrue:     {"JUMP_TRUE", 1, -1},
	OpJumpFalse:    {"JUMP_FALSE", 1, -1},
	OpPop:          {"POP", 0, -1},
	OpDup:          {"DUP", 0, 1},
	OpCreateBlock:  {"CREATE_BLOCK", 2, 1},
	OpExecuteBlock: {"EXECUTE_BLOCK", 1, 0},
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	return op < opcodeLimit
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if op.Valid() {
		return opcodeTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// Size returns the full instruction length in bytes.
func (op Opcode) Size() int {
	return 1 + op.Info().Operands*operandSize
}

func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{bytes: make([]byte, 0, 64)}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit emits an opcode with its operands.
func (b *BytecodeBuilder) Emit(op Opcode, operands ...uint32) {
	b.bytes = append(b.bytes, byte(op))
	for _, v := range operands {
		b.bytes = binary.LittleEndian.AppendUint32(b.bytes, v)
	}
}

func (b *BytecodeBuilder) PushLiteral(idx int) { b.Emit(OpPushLiteral, u32(idx)) }
func (b *BytecodeBuilder) PushInstVar(off int) { b.Emit(OpPushInstVar, u32(off)) }
func (b *BytecodeBuilder) PushTemp(off int) { b.Emit(OpPushTemp, u32(off)) }
func (b *BytecodeBuilder) PushSelf() { b.Emit(OpPushSelf) }
func (b *BytecodeBuilder) StoreInstVar(off int) { b.Emit(OpStoreInstVar, u32(off)) }
func (b *BytecodeBuilder) StoreTemp(off int) { b.Emit(OpStoreTemp, u32(off)) }
func (b *BytecodeBuilder) Send(sel, argc int) { b.Emit(OpSend, u32(sel), u32(argc)) }
func (b *BytecodeBuilder) ReturnTop() { b.Emit(OpReturnTop) }
func (b *BytecodeBuilder) Pop() { b.Emit(OpPop) }
func (b *BytecodeBuilder) Dup() { b.Emit(OpDup) }
func (b *BytecodeBuilder) ExecuteBlock(argc int) { b.Emit(OpExecuteBlock, u32(argc)) }

// CreateBlock emits a closure creation for the block literal at idx.
func (b *BytecodeBuilder) CreateBlock(idx, params int) {
	b.Emit(OpCreateBlock, u32(idx), u32(params))
}

func u32(n int) uint32 {
	v, err := safecast.Conv[uint32](n)
	if err != nil {
		panic(fmt.Sprintf("bytecode operand %d: %v", n, err))
	}
	return v
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label is a jump target that may be referenced before it is placed.
type Label struct {
	resolved bool
	position int
	refs     []int // operand positions awaiting the target
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{}
}

// Mark resolves a label to the current position and patches earlier jumps.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)
	for _, ref := range label.refs {
		binary.LittleEndian.PutUint32(b.bytes[ref:], u32(label.position))
	}
	label.refs = nil
}

// EmitJump emits a jump to label. Targets are absolute byte offsets.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	b.bytes = append(b.bytes, byte(op))
	if label.resolved {
		b.bytes = binary.LittleEndian.AppendUint32(b.bytes, u32(label.position))
		return
	}
	label.refs = append(label.refs, len(b.bytes))
	b.bytes = append(b.bytes, 0, 0, 0, 0)
}

// ---------------------------------------------------------------------------
// Bytecode reader
// ---------------------------------------------------------------------------

// BytecodeReader decodes instructions, reporting truncated input as a
// CorruptedInstruction error.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// Seek sets the read position.
func (r *BytecodeReader) Seek(pos int) {
	r.pos = pos
}

// Instruction is one decoded instruction.
type Instruction struct {
	Offset   int
	Op       Opcode
	Operands [2]uint32
}

// Next returns the offset of the following instruction.
func (i Instruction) Next() int {
	return i.Offset + i.Op.Size()
}

// Read decodes the next instruction.
func (r *BytecodeReader) Read() (Instruction, error) {
	in, err := decodeAt(r.bytes, r.pos)
	if err == nil {
		r.pos = in.Next()
	}
	return in, err
}

// decodeAt decodes the instruction starting at ip.
func decodeAt(bc []byte, ip int) (Instruction, error) {
	in := Instruction{Offset: ip}
	if ip < 0 || ip >= len(bc) {
		return in, corrupted(ip, -1, "ip %d outside bytecode of length %d", ip, len(bc))
	}
	in.Op = Opcode(bc[ip])
	if !in.Op.Valid() {
		return in, corrupted(ip, int(in.Op), "unknown opcode %d at %d", byte(in.Op), ip)
	}
	if ip+in.Op.Size() > len(bc) {
		return in, corrupted(ip, int(in.Op), "truncated %s at %d", in.Op, ip)
	}
	for k := range in.Op.Info().Operands {
		in.Operands[k] = binary.LittleEndian.Uint32(bc[ip+1+k*operandSize:])
	}
	return in, nil
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

func (i Instruction) String() string {
	info := i.Op.Info()
	switch info.Operands {
	case 0:
		return fmt.Sprintf("%04d  %s", i.Offset, info.Name)
	case 1:
		switch i.Op {
		case OpJump, OpJumpTrue, OpJumpFalse:
			return fmt.Sprintf("%04d  %s -> %04d", i.Offset, info.Name, i.Operands[0])
		}
		return fmt.Sprintf("%04d  %s %d", i.Offset, info.Name, i.Operands[0])
	}
	switch i.Op {
	case OpSend:
		return fmt.Sprintf("%04d  %s selector=%d argc=%d", i.Offset, info.Name, i.Operands[0], i.Operands[1])
	case OpCreateBlock:
		return fmt.Sprintf("%04d  %s block=%d params=%d", i.Offset, info.Name, i.Operands[0], i.Operands[1])
	}
	return fmt.Sprintf("%04d  %s %d %d", i.Offset, info.Name, i.Operands[0], i.Operands[1])
}

// Disassemble returns a full disassembly of bytecode. Decoding stops at the
// first malformed instruction, which is reported inline.
func Disassemble(bc []byte) string {
	r := NewBytecodeReader(bc)
	var lines []string
	for r.HasMore() {
		in, err := r.Read()
		if err != nil {
			lines = append(lines, fmt.Sprintf("%04d  <%v>", in.Offset, err))
			break
		}
		lines = append(lines, in.String())
	}
	return strings.Join(lines, "\n")
}

// ---------------------------------------------------------------------------
// Static analysis
// ---------------------------------------------------------------------------

// StackDepth returns the maximum operand stack depth any path through bc
// reaches. Jumps must target instruction boundaries and no path may pop an
// empty stack.
func StackDepth(bc []byte) (int, error) {
	depthAt := make(map[int]int)
	starts := make(map[int]bool)
	r := NewBytecodeReader(bc)
	for r.HasMore() {
		in, err := r.Read()
		if err != nil {
			return 0, err
		}
		starts[in.Offset] = true
	}
	starts[len(bc)] = true

	maxDepth := 0
	work := []int{0}
	depthAt[0] = 0
	for len(work) > 0 {
		pc := work[len(work)-1]
		work = work[:len(work)-1]
		depth := depthAt[pc]
		if pc == len(bc) {
			continue
		}
		r.Seek(pc)
		in, err := r.Read()
		if err != nil {
			return 0, err
		}
		pops, pushes := in.stackUse()
		if depth < pops {
			return 0, corrupted(pc, int(in.Op), "stack underflow at %d: %s needs %d, have %d", pc, in.Op, pops, depth)
		}
		depth += pushes - pops
		maxDepth = max(maxDepth, depth)

		var succ []int
		switch in.Op {
		case OpReturnTop:
		case OpJump:
			succ = []int{int(in.Operands[0])}
		case OpJumpTrue, OpJumpFalse:
			succ = []int{in.Next(), int(in.Operands[0])}
		default:
			succ = []int{in.Next()}
		}
		for _, s := range succ {
			if !starts[s] {
				return 0, corrupted(pc, int(in.Op), "jump target %d is not an instruction boundary", s)
			}
			if d, seen := depthAt[s]; seen {
				if d != depth {
					return 0, corrupted(s, -1, "inconsistent stack depth at %d: %d vs %d", s, d, depth)
				}
				continue
			}
			depthAt[s] = depth
			work = append(work, s)
		}
	}
	return maxDepth, nil
}

// stackUse returns how many values the instruction pops and pushes.
func (i Instruction) stackUse() (pops, pushes int) {
	switch i.Op {
	case OpPushLiteral, OpPushInstVar, OpPushTemp, OpPushSelf, OpCreateBlock:
		return 0, 1
	case OpStoreInstVar, OpStoreTemp:
		return 1, 1
	case OpDup:
		return 1, 2
	case OpJump:
		return 0, 0
	case OpSend, OpExecuteBlock:
		argc := int(i.Operands[0])
		if i.Op == OpSend {
			argc = int(i.Operands[1])
		}
		return argc + 1, 1
	default:
		return 1, 0
	}
}
