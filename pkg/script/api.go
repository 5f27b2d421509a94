package script

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/wehubfusion/Talos/pkg/runtime"
)

var errNoScope = errors.New("script is not bound to a scope")

// binding exposes the scope of the current run to JavaScript:
//
//	temp(name)          temporary variable, searched outward
//	setTemp(name, v)    assign a temporary where it is bound
//	local(name)         variable of the current frame only
//	attr(name)          attribute of the current agent
//	setAttr(name, v)    assign an attribute of the current agent
//	self()              name of the current agent
//	brk() cont() die()  set the break, continue or death status
//	ret(v)              set the return status; v becomes the result
type binding struct {
	vm       *goja.Runtime
	scope    *runtime.Scope
	returned bool
	value    any
}

func (b *binding) bind(s *runtime.Scope) {
	b.scope = s
	b.returned = false
	b.value = nil
}

func (b *binding) unbind() {
	b.scope = nil
	b.returned = false
	b.value = nil
}

func (b *binding) install(vm *goja.Runtime) error {
	b.vm = vm
	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"temp":    b.temp,
		"setTemp": b.setTemp,
		"local":   b.local,
		"attr":    b.attr,
		"setAttr": b.setAttr,
		"self":    b.self,
		"brk":     b.flow(func(s *runtime.Scope) { s.SetBreakStatus() }),
		"cont":    b.flow(func(s *runtime.Scope) { s.SetContinueStatus() }),
		"die":     b.flow(func(s *runtime.Scope) { s.SetDeathStatus() }),
		"ret":     b.ret,
	} {
		if err := vm.Set(name, fn); err != nil {
			return fmt.Errorf("failed to install %s: %w", name, err)
		}
	}
	return nil
}

// current panics with a JavaScript error when the binding is idle.
func (b *binding) current() *runtime.Scope {
	if b.scope == nil {
		panic(b.vm.NewGoError(errNoScope))
	}
	return b.scope
}

func (b *binding) agent() runtime.Agent {
	agent := b.current().Agent()
	if agent == nil {
		panic(b.vm.NewGoError(errors.New("no current agent")))
	}
	return agent
}

func (b *binding) temp(call goja.FunctionCall) goja.Value {
	v, ok := b.current().TempVar(call.Argument(0).String())
	if !ok {
		return goja.Undefined()
	}
	return b.vm.ToValue(v)
}

func (b *binding) setTemp(call goja.FunctionCall) goja.Value {
	if err := b.current().SetTempVar(call.Argument(0).String(), export(call.Argument(1))); err != nil {
		panic(b.vm.NewGoError(err))
	}
	return goja.Undefined()
}

func (b *binding) local(call goja.FunctionCall) goja.Value {
	v, ok := b.current().Local(call.Argument(0).String())
	if !ok {
		return goja.Undefined()
	}
	return b.vm.ToValue(v)
}

func (b *binding) attr(call goja.FunctionCall) goja.Value {
	v, ok := b.agent().Attribute(call.Argument(0).String())
	if !ok {
		return goja.Undefined()
	}
	return b.vm.ToValue(v)
}

func (b *binding) setAttr(call goja.FunctionCall) goja.Value {
	b.agent().SetAttribute(call.Argument(0).String(), export(call.Argument(1)))
	return goja.Undefined()
}

func (b *binding) self(call goja.FunctionCall) goja.Value {
	return b.vm.ToValue(b.agent().Name())
}

func (b *binding) flow(set func(*runtime.Scope)) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		set(b.current())
		return goja.Undefined()
	}
}

func (b *binding) ret(call goja.FunctionCall) goja.Value {
	s := b.current()
	s.SetReturnStatus()
	b.returned = true
	b.value = export(call.Argument(0))
	return call.Argument(0)
}

func export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}
