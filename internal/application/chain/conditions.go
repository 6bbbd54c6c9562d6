package chain

import (
	"container/list"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator evaluates step conditions against prior step results, with a
// small LRU of compiled programs since chains re-run the same conditions
// across regeneration attempts.
type Evaluator struct {
	capacity int
	mu       sync.Mutex
	cache    map[string]*list.Element
	lruList  *list.List
}

type cacheEntry struct {
	key     string
	program *vm.Program
}

// NewEvaluator creates a condition evaluator with the given cache
// capacity.
func NewEvaluator(capacity int) *Evaluator {
	if capacity <= 0 {
		capacity = 100
	}
	return &Evaluator{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Evaluate runs a condition such as "{{ stepA.output.score > 0.8 }}"
// against the step context and requires a boolean result. The outer
// template braces are optional.
func (e *Evaluator) Evaluate(condition string, context map[string]any) (bool, error) {
	expression := strings.TrimSpace(condition)
	expression = strings.TrimPrefix(expression, "{{")
	expression = strings.TrimSuffix(expression, "}}")
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return false, resolutionErrorf("empty condition")
	}

	program, err := e.compile(expression, context)
	if err != nil {
		return false, resolutionErrorf("failed to compile condition %q: %v", condition, err)
	}

	result, err := expr.Run(program, context)
	if err != nil {
		return false, resolutionErrorf("failed to evaluate condition %q: %v", condition, err)
	}

	verdict, ok := result.(bool)
	if !ok {
		return false, resolutionErrorf("condition %q must evaluate to a boolean, got %T", condition, result)
	}
	return verdict, nil
}

func (e *Evaluator) compile(expression string, context map[string]any) (*vm.Program, error) {
	e.mu.Lock()
	if element, found := e.cache[expression]; found {
		e.lruList.MoveToFront(element)
		program := element.Value.(*cacheEntry).program
		e.mu.Unlock()
		return program, nil
	}
	e.mu.Unlock()

	program, err := expr.Compile(expression, expr.Env(context), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if element, found := e.cache[expression]; found {
		e.lruList.MoveToFront(element)
		element.Value.(*cacheEntry).program = program
		return program, nil
	}
	element := e.lruList.PushFront(&cacheEntry{key: expression, program: program})
	e.cache[expression] = element
	if e.lruList.Len() > e.capacity {
		oldest := e.lruList.Back()
		if oldest != nil {
			e.lruList.Remove(oldest)
			delete(e.cache, oldest.Value.(*cacheEntry).key)
		}
	}
	return program, nil
}
