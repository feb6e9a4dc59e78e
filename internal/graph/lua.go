package graph

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// LuaClassifier delegates way classification to a user Lua script. The script
// must define a global function:
//
//	function classify_way(tags)
//	  return { way_type = "track", surface = "gravel",
//	           oneway = false, allowed = true }
//	end
//
// Returning nil excludes the way. Fields left out fall back to the built-in
// profile classification for that way.
type LuaClassifier struct {
	mu       sync.Mutex
	L        *lua.LState
	fn       lua.LValue
	fallback Classifier
}

// NewLuaClassifier loads a classification script. Lua states are single
// threaded, so Classify serializes callers; concurrent region pipelines
// share one interpreter.
func NewLuaClassifier(path string, fallback Classifier) (*LuaClassifier, error) {
	L := lua.NewState()

	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to load classification script: %w", err)
	}

	fn := L.GetGlobal("classify_way")
	if fn.Type() != lua.LTFunction {
		L.Close()
		return nil, fmt.Errorf("classification script must define classify_way(tags)")
	}

	if fallback == nil {
		fallback = NewClassifier(nil)
	}

	return &LuaClassifier{L: L, fn: fn, fallback: fallback}, nil
}

// Close releases the Lua interpreter.
func (c *LuaClassifier) Close() {
	c.L.Close()
}

// Classify invokes the script's classify_way callback.
func (c *LuaClassifier) Classify(tags map[string]string) Classification {
	base := c.fallback.Classify(tags)

	c.mu.Lock()
	defer c.mu.Unlock()

	tagsTbl := c.L.NewTable()
	for k, v := range tags {
		tagsTbl.RawSetString(k, lua.LString(v))
	}

	if err := c.L.CallByParam(lua.P{
		Fn:      c.fn,
		NRet:    1,
		Protect: true,
	}, tagsTbl); err != nil {
		// A scripting error on one way is data-quality noise, not a pipeline
		// defect; fall back to the built-in taxonomy.
		return base
	}

	ret := c.L.Get(-1)
	c.L.Pop(1)

	if ret == lua.LNil {
		return Classification{Allowed: false}
	}

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return base
	}

	out := base
	out.Allowed = true

	if v := tbl.RawGetString("way_type"); v.Type() == lua.LTString {
		for w, name := range wayTypeNames {
			if name == string(v.(lua.LString)) {
				out.WayType = w
				break
			}
		}
	}
	if v := tbl.RawGetString("surface"); v.Type() == lua.LTString {
		for s, name := range surfaceNames {
			if name == string(v.(lua.LString)) {
				out.Surface = s
				break
			}
		}
	}
	if v := tbl.RawGetString("oneway"); v.Type() == lua.LTBool {
		out.OneWay = bool(v.(lua.LBool))
	}
	if v := tbl.RawGetString("allowed"); v.Type() == lua.LTBool {
		out.Allowed = bool(v.(lua.LBool))
	}

	return out
}
