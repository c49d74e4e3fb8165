package invoke

import (
	"fmt"
	"strings"

	"omegaclaw/pkg/utils"
)

// Context bounds for a cycle prompt.
const (
	promptJobLimit     = 2000
	promptResultLimit  = 500
	promptRecentAction = 10
)

// CycleContext is everything a cycle prompt is built from.
type CycleContext struct {
	JobID      string
	Job        string
	Phase      string
	LastResult string
	Actions    []string
}

// BuildCyclePrompt renders the script-cycle prompt.
func BuildCyclePrompt(c CycleContext) string {
	recent := c.Actions
	if len(recent) > promptRecentAction {
		recent = recent[len(recent)-promptRecentAction:]
	}
	completed := "None yet"
	if len(recent) > 0 {
		lines := make([]string, len(recent))
		for i, a := range recent {
			lines[i] = "- " + a
		}
		completed = strings.Join(lines, "\n")
	}
	last := c.LastResult
	if last == "" {
		last = "None"
	}
	phase := c.Phase
	if phase == "" {
		phase = "init"
	}

	return fmt.Sprintf(`You are the Omega Build Agent working on job: %s

## Job Description
%s

## Current Phase: %s

## Completed Actions (recent)
%s

## Last Result
%s

## Your Task
Determine the NEXT action needed. Respond with ONE of these formats:

### To execute a bash command:
`+"```bash"+`
<your command here>
`+"```"+`

### To create/write a file:
`+"```write:path/to/file.ext"+`
<file content>
`+"```"+`

### To indicate you need user input:
`+"```blocked"+`
REASON: <what you need from the user>
`+"```"+`

### To indicate the job is complete:
`+"```complete"+`
SUMMARY: <what was built>
`+"```"+`

### To indicate the next phase:
`+"```phase:<phase_name>"+`
`+"```"+`

IMPORTANT:
- Output ONLY ONE action per response
- Prefer simple, atomic commands
- Check results before proceeding
- If stuck, request user input via blocked

What's the next action?`,
		c.JobID,
		utils.Truncate(c.Job, promptJobLimit),
		phase,
		completed,
		utils.Truncate(last, promptResultLimit),
	)
}

// BuildInteractivePrompt renders the first message typed into an interactive
// session.
func BuildInteractivePrompt(jobID, jobPath, progressPath string) string {
	return fmt.Sprintf(`You are the Omega Master Orchestrator running in AUTONOMOUS mode.

READ THIS FILE:
%s

AUTONOMOUS PROTOCOL:
1. Read and understand the job requirements
2. Execute the build following the Kit specified
3. After each major phase, output: PHASE_COMPLETE: [phase name]
4. If you need user input (API key, decision), output: BLOCKED: [what you need]
5. When completely done, output: JOB_COMPLETE
6. Write your progress to: %s

IMPORTANT:
- Work autonomously - only ask the user when truly blocked
- Report progress after each phase

BEGIN NOW. Read the job file first. Job id: %s`, jobPath, progressPath, jobID)
}

// BuildSimplePrompt renders the single print-mode prompt.
func BuildSimplePrompt(jobID, job string) string {
	return fmt.Sprintf(`You are the Omega Build Agent. Build job %s to completion without asking questions.

## Job Description
%s

When you are finished, print a short summary of what was built.`, jobID, job)
}
