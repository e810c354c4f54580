package qagen

import (
	"fmt"
	"strings"
)

type prompt struct {
	system string
	user   string
}

const questionSystem = "你是一名资深的文本分析专家，擅长从复杂文本中提炼关键信息并据此提出高质量的问题（只提问，不作答）。" +
	"所有问题必须严格依据给定文本，不得虚构。"

const questionUser = `请阅读下面的文本段落，并据此提出不超过 %d 个问题。

## 要求
- 问题必须能够直接由文本内容回答
- 问题要有明确的答案指向，但不要给出答案
- 可以包含事实型、推理型、填空型等不同类型
- 不要提出假设性问题，也不要提出重复或相近的问题
- 尽量覆盖文本中的关键信息
- 只输出一个 JSON 字符串数组，格式严格如下：
["问题1","问题2","..."]

## 示例
["甲方以何种方式向乙方支付餐费？","学生晚餐的用餐标准包括哪些菜品？"]

## 文本段落
%s`

func questionPrompt(paragraph string, maxCount int) prompt {
	return prompt{
		system: questionSystem,
		user:   fmt.Sprintf(questionUser, maxCount, paragraph),
	}
}

const answerSystem = "你是一名资深的文本分析专家，擅长从复杂文本中找出准确的答案。" +
	"回答必须严格依据给定文本，不得虚构。"

const answerUser = `请根据下面的文本段落回答问题。

## 要求
- 答案必须直接来自文本，不得编造
- 回答准确、简洁，不加额外说明
- 如果文本中没有答案，请回答"%s"
- 只输出答案本身，不要加"答案："等前缀或符号

## 文本段落
%s

## 问题
%s`

func answerPrompt(paragraph, question string) prompt {
	return prompt{
		system: answerSystem,
		user:   fmt.Sprintf(answerUser, NoAnswer, paragraph, question),
	}
}

const cleanSystem = "你是一名专业的数据清洗专家，擅长识别并清理文本中的噪声、重复、乱码等脏数据，" +
	"使数据更加准确、一致、可用。"

const cleanUser = `请对下面的文本做严格的数据清洗（只清洗，不改写）：

%s

要求：
- 只做清洗：删除无意义的符号、乱码和重复内容
- 修正格式与编码问题、标点错误、明显的错别字和语病
- 保持原文的意思和顺序，不添加原文没有的内容
- 不改写、不扩写、不生成新句子
- 只输出清洗后的纯文本，不要解释、标注或附加任何信息`

func cleanPrompt(text string, rules Rules) prompt {
	system := cleanSystem
	if rules.Global != "" {
		system += "在接下来的任务中，你必须遵守以下规则：" + rules.Global
	}
	user := fmt.Sprintf(cleanUser, text)
	if rules.Clean != "" {
		user += "\n- 清洗时必须遵守以下规则：" + rules.Clean
	}
	return prompt{system: system, user: strings.TrimSpace(user)}
}
