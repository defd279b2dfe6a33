package service

import (
	"encoding/json"
	"exam_eval_backend/internal/model"
	"fmt"
)

// ExtractionPrompt 试卷结构提取，随全部试卷页面一次性发送
const ExtractionPrompt = `You are an intelligent exam paper parser.
Your task is to analyze the content of the provided question paper images and extract all questions with their metadata.

Rules:

Output must be a single valid JSON object only (no extra text).

Follow the schema strictly.

Max Marks Rules:

If a section says "Answer any TWO out of four (10 marks)", then each sub-question is worth total_marks / required_questions, here 10/2 = 5 marks each.

If more sub-questions are attempted than required, only the highest-scoring ones are counted (this must be reflected in the max_marks of each sub-question).

For MCQs, each question carries equal marks as mentioned (assume 1 mark if not specified). Parse the options with their numbering, for example
a. option 1
b. option 2
or
1. option 1
2. option 2
and store the correct option for that MCQ in correct_answer.

If a question or option cannot be parsed, omit it.

JSON Schema to follow:
{
  "exam_details": {
    "name": "string",
    "course_code": "string",
    "marks": "number",
    "date": "string",
    "time": "string"
  },
  "sections": [
    {
      "section_name": "string",
      "instructions": "string",
      "questions": [
        {
          "question_number": "number",
          "question_text": "string",
          "question_type": "string",
          "options": ["array of strings"],
          "correct_answer": "string",
          "max_marks": "number"
        }
      ]
    }
  ]
}

Return only a valid JSON object.
Do not include markdown, code fences, or extra text.`

const evaluationPromptTemplate = `You are an intelligent exam evaluator. You will be provided with a student's answer sheet page and the structured question data from the question paper.
Your task is to:
1. Identify the main section number (e.g., Q1, Q2) from the page.
2. Identify each sub-question number (e.g., 1, 2, 3) within that section.
3. Combine them to form a complete question number in the format 'section.sub_question' (e.g., '1.1', '2.3').
4. Evaluate the student's handwritten answer for each question found on the page against the question paper data.
5. Return a JSON array with one evaluation result for each question found. Return an empty array if the page contains no answers.

JSON Schema:
[
  {
    "question_no": "string (e.g., '1.1', '2.3')",
    "obtained_marks": "number",
    "max_marks": "number",
    "feedback": "string"
  }
]
Do not include any extra text.

Question Paper Data: %s

Student Answer Sheet Page Image:`

func BuildEvaluationPrompt(schema *model.ExamSchema) (string, error) {
	data, err := json.MarshalIndent(schema, "", "    ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(evaluationPromptTemplate, data), nil
}
