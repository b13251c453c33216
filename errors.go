package neptunevk

import (
	"fmt"
	"runtime"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
)

func isError(ret vk.Result) bool {
	return ret != vk.Success
}

// NewError converts a non-success vk.Result into an error carrying the
// calling frame. Success maps to nil.
func NewError(ret vk.Result) error {
	if ret != vk.Success {
		pc, _, _, ok := runtime.Caller(1)
		if !ok {
			return fmt.Errorf("vulkan error: %d", ret)
		}
		frame := runtime.FuncForPC(pc)
		if frame == nil {
			return fmt.Errorf("vulkan error: %d", ret)
		}
		return fmt.Errorf("vulkan error: %d on %s", ret, frame.Name())
	}
	return nil
}

func newErrorf(ret vk.Result, format string, args ...interface{}) error {
	if ret == vk.Success {
		return nil
	}
	return errors.Wrapf(NewError(ret), format, args...)
}

func orPanic(err error, finalizers ...func()) {
	if err != nil {
		for _, fn := range finalizers {
			fn()
		}
		panic(err)
	}
}

func checkErr(err *error) {
	if v := recover(); v != nil {
		*err = fmt.Errorf("%+v", v)
	}
}

func checkErrStack(err *error) {
	if v := recover(); v != nil {
		stack := make([]byte, 32*1024)
		n := runtime.Stack(stack, false)
		switch event := v.(type) {
		case error:
			*err = fmt.Errorf("%s\n%s", event.Error(), stack[:n])
		default:
			*err = fmt.Errorf("%+v %s", v, stack[:n])
		}
	}
}
