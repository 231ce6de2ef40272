package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const sampleDir = "samples"

var sampleFiles = map[string]string{
	"employee.yaml": `name: employee
fields:
  - name: Id
    type: integer
    required: true
  - name: EmployeeName
    type: string
    required: true
    description: full name of the employee
  - name: Salary
    type: decimal
  - name: HireDate
    type: date
`,
	"employees.csv": `emp_id,employee_name,pay,hired
1,Ada Lovelace,5200.50,2024-01-15
2,Alan Turing,6100,2023-11-02
3,Grace Hopper,7300.25,2022-06-30
`,
	"employees.json": `[
  {"id": 1, "name": "Ada Lovelace", "salary": 5200.5},
  {"id": 2, "name": "Alan Turing", "salary": 6100}
]
`,
}

// Sample writes a sample schema and documents into samples/ and maps them.
func Sample() error {
	mg.Deps(Build)
	if err := os.MkdirAll(sampleDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", sampleDir, err)
	}
	for name, content := range sampleFiles {
		if err := os.WriteFile(filepath.Join(sampleDir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	bin := filepath.Join(binDir, binName)
	return sh.RunV(bin, "map",
		"--schema", filepath.Join(sampleDir, "employee.yaml"),
		"--out", filepath.Join(sampleDir, "mapped"),
		filepath.Join(sampleDir, "employees.csv"),
		filepath.Join(sampleDir, "employees.json"),
	)
}
