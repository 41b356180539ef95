package workflow

import (
	"fmt"
	"strings"
)

// ReplacePlaceholder 替换步骤输入中的占位符
// 仅当整个输入形如${name}且params中存在name时替换
// 返回替换后的字符串和是否成功替换
func ReplacePlaceholder(value string, params map[string]interface{}) (string, bool) {
	if !strings.HasPrefix(value, "${") || !strings.HasSuffix(value, "}") {
		return value, false
	}

	paramName := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
	if paramName == "" {
		return value, false
	}

	actualValue, exists := params[paramName]
	if !exists {
		return value, false
	}

	switch v := actualValue.(type) {
	case string:
		return v, true
	case nil:
		return "", true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

// ResolveStepInput 计算步骤的实际输入
// 显式输入优先（支持${param}占位符），否则使用fallback
func ResolveStepInput(step Step, fallback string, params map[string]interface{}) string {
	if !step.HasInput() {
		return fallback
	}
	if len(params) == 0 {
		return *step.Input
	}
	replaced, _ := ReplacePlaceholder(*step.Input, params)
	return replaced
}

// UnresolvedPlaceholders 返回定义中引用但params未提供的占位符
func UnresolvedPlaceholders(def *Definition, params map[string]interface{}) []string {
	var unresolved []string
	if def == nil {
		return nil
	}
	for _, step := range def.Steps {
		if !step.HasInput() {
			continue
		}
		value := *step.Input
		if _, ok := ReplacePlaceholder(value, params); ok {
			continue
		}
		if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") && len(value) > 3 {
			unresolved = append(unresolved, strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${"))
		}
	}
	return unresolved
}
