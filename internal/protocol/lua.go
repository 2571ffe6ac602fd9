package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aarzilli/golua/lua"
)

// LuaTransform runs a script-defined transform(cmd) function.
//
// The script receives the command as a table and returns an array of byte
// values, or nil when there is nothing to send. A single Lua state is shared,
// so calls are serialized.
type LuaTransform struct {
	name  string
	state *lua.State
	mu    sync.Mutex
}

const luaEntryPoint = "transform"

// NewLuaTransform compiles source and checks that it defines transform.
func NewLuaTransform(name, source string) (*LuaTransform, error) {
	state := lua.NewState()
	state.OpenLibs()

	if ret := state.LoadString(source); ret != 0 {
		msg := state.ToString(-1)
		state.Close()
		return nil, fmt.Errorf("protocol %s: failed to load script: %s", name, msg)
	}
	if err := state.Call(0, 0); err != nil {
		state.Close()
		return nil, fmt.Errorf("protocol %s: failed to execute script: %w", name, err)
	}

	state.GetGlobal(luaEntryPoint)
	defined := state.IsFunction(-1)
	state.Pop(1)
	if !defined {
		state.Close()
		return nil, fmt.Errorf("protocol %s: script does not define %s(cmd)", name, luaEntryPoint)
	}

	return &LuaTransform{name: name, state: state}, nil
}

// Transform implements TransformFunc.
func (t *LuaTransform) Transform(cmd Command) (Packet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	L := t.state
	top := L.GetTop()
	defer L.SetTop(top)

	L.GetGlobal(luaEntryPoint)
	pushValue(L, cmd.fields)
	if err := L.Call(1, 1); err != nil {
		return nil, fmt.Errorf("protocol %s: transform failed: %w", t.name, err)
	}

	if L.IsNil(-1) {
		return nil, fmt.Errorf("%w: script returned nil", ErrNoPacket)
	}
	if !L.IsTable(-1) {
		return nil, fmt.Errorf("protocol %s: transform must return a table of bytes or nil", t.name)
	}

	n := int(L.ObjLen(-1))
	packet := make(Packet, 0, n)
	for i := 1; i <= n; i++ {
		L.RawGeti(-1, i)
		if !L.IsNumber(-1) {
			return nil, fmt.Errorf("protocol %s: element %d is not a number", t.name, i)
		}
		v := L.ToInteger(-1)
		L.Pop(1)
		if v < 0 || v > 0xFF {
			return nil, fmt.Errorf("protocol %s: element %d out of byte range: %d", t.name, i, v)
		}
		packet = append(packet, byte(v))
	}
	return packet, nil
}

func (t *LuaTransform) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != nil {
		t.state.Close()
		t.state = nil
	}
}

func pushValue(L *lua.State, v any) {
	switch val := v.(type) {
	case nil:
		L.PushNil()
	case bool:
		L.PushBoolean(val)
	case string:
		L.PushString(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			L.PushInteger(i)
		} else if f, err := val.Float64(); err == nil {
			L.PushNumber(f)
		} else {
			L.PushString(val.String())
		}
	case float64:
		L.PushNumber(val)
	case int:
		L.PushInteger(int64(val))
	case map[string]any:
		L.NewTable()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			L.PushString(k)
			pushValue(L, val[k])
			L.SetTable(-3)
		}
	case []any:
		L.NewTable()
		for i, item := range val {
			L.PushInteger(int64(i + 1))
			pushValue(L, item)
			L.SetTable(-3)
		}
	default:
		L.PushString(fmt.Sprint(val))
	}
}
