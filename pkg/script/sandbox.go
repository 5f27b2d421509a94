package script

import (
	"fmt"

	"github.com/dop251/goja"
)

// applySandbox removes host globals and, outside permissive mode, freezes
// the built-in prototypes so scripts cannot tamper with each other.
func applySandbox(vm *goja.Runtime, config Config) error {
	for _, name := range []string{
		"require",
		"module",
		"exports",
		"process",
		"global",
		"Buffer",
		"setImmediate",
		"clearImmediate",
	} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	if config.SecurityLevel == SecurityLevelStrict {
		err := vm.Set("eval", func(call goja.FunctionCall) goja.Value {
			panic(vm.NewGoError(fmt.Errorf("eval: %w in strict mode", errSecurity)))
		})
		if err != nil {
			return fmt.Errorf("failed to restrict eval: %w", err)
		}
	}

	vm.SetMaxCallStackSize(config.MaxStackDepth)

	if config.SecurityLevel == SecurityLevelPermissive {
		return nil
	}
	_, err := vm.RunString(`
		(function() {
			var names = ['Object', 'Array', 'Function', 'String', 'Number', 'Boolean', 'Date', 'RegExp', 'Error', 'Math'];
			for (var i = 0; i < names.length; i++) {
				var obj = this[names[i]];
				if (obj) {
					Object.freeze(obj);
					if (obj.prototype) {
						Object.freeze(obj.prototype);
					}
				}
			}
		})()
	`)
	if err != nil {
		return fmt.Errorf("failed to freeze built-ins: %w", err)
	}
	return nil
}
