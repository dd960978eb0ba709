package decompose

// decompositionPrompt asks for a prioritized, dependency-ordered task set.
const decompositionPrompt = `Break this instruction into subtasks sized for a single agent to complete in one session.

Instruction:
%s

Return ONLY a JSON array of tasks with this exact structure (no other text):
[
  {
    "title": "Short task title",
    "description": "Detailed task description with everything the agent needs",
    "priority": 5,
    "capability": "",
    "depends_on": ["title of dependency 1"],
    "self_test": "Concrete check proving this task is done, e.g. a command to run and its expected outcome"
  }
]

Guidelines:
- priority is an integer 1-10, higher is more urgent; independent urgent work first
- Tasks should be as independent as possible to allow parallel execution
- Only add dependencies when task A genuinely must complete before task B
- depends_on entries are exact titles of other tasks in this array; use [] when independent
- capability is a short tag when a task needs a specialist agent, empty otherwise
- self_test should name observable outcomes: commands, exit codes, files, endpoints
- Never create two tasks that both rewrite the same file`

// reviewPrompt asks for a verdict on a completed task's output.
const reviewPrompt = `Review whether the completed work satisfies the task.

Task:
Title: %s
Description: %s
Self-test: %s

Reported result:
%s

Return ONLY a JSON object with this exact structure (no other text):
{
  "approved": true,
  "feedback": "What is missing or wrong when not approved, empty otherwise"
}

Approve only when the result demonstrates the task's outcome. When rejecting,
feedback must be concrete enough for a remediation task to act on.`
