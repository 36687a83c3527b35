package playbook

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	genericPlaybookFile = "generic_playbook.yml"
	condaSectionName    = "conda"
	optionalSectionName = "optional"
	changeKeySectionName = "change_key"
)

// ansibleTaskRef is one import_tasks reference inside a block.
type ansibleTaskRef struct {
	Name        string `yaml:"name"`
	ImportTasks string `yaml:"import_tasks"`
}

// ansibleBlock is the block/always structure the generic playbook's single
// task entry holds (mirrors the Python original's data_gp[0]["tasks"][0]).
type ansibleBlock struct {
	Block  []ansibleTaskRef `yaml:"block"`
	Always []ansibleTaskRef `yaml:"always"`
}

// ansiblePlay is the single play that makes up generic_playbook.yml.
type ansiblePlay struct {
	Hosts     string         `yaml:"hosts"`
	VarsFiles []string       `yaml:"vars_files"`
	Tasks     []ansibleBlock `yaml:"tasks"`
}

// CondaPackage is one conda package request, per spec.md §6's
// CreateAndDeployPlaybook input.
type CondaPackage struct {
	Name    string
	Version string
	Build   string
}

// assembly accumulates the playbook's vars_files and task lists as
// conditional sub-playbooks are materialised, matching the order and
// structure of Playbook.copy_playbooks_and_init in the original source.
type assembly struct {
	scratchDir string
	varsFiles  []string
	tasks      []ansibleTaskRef
	always     []ansibleTaskRef
}

func newAssembly(scratchDir string) *assembly {
	return &assembly{scratchDir: scratchDir}
}

func (a *assembly) addSection(sectionName, playbookName string) {
	a.varsFiles = append(a.varsFiles, sectionName+"_vars_file.yml")
	a.tasks = append(a.tasks, ansibleTaskRef{
		Name:        fmt.Sprintf("Running %s tasks", playbookName),
		ImportTasks: playbookName + ".yml",
	})
}

func (a *assembly) addAlwaysSection(sectionName, playbookName string) {
	a.varsFiles = append(a.varsFiles, sectionName+"_vars_file.yml")
	a.always = append(a.always, ansibleTaskRef{
		Name:        fmt.Sprintf("Running %s tasks", playbookName),
		ImportTasks: playbookName + ".yml",
	})
}

func (a *assembly) writeVarsFile(name string, data any) error {
	f, err := os.Create(filepath.Join(a.scratchDir, name))
	if err != nil {
		return err
	}
	defer f.Close()
	enc := yaml.NewEncoder(f)
	defer enc.Close()
	return enc.Encode(data)
}

// addCondaPackages materialises the conda sub-playbook's vars file when
// condaPkgs is non-empty.
func (a *assembly) addCondaPackages(condaPkgs []CondaPackage) error {
	if len(condaPkgs) == 0 {
		return nil
	}
	packages := make(map[string]map[string]string, len(condaPkgs))
	for _, p := range condaPkgs {
		packages[p.Name] = map[string]string{"version": p.Version, "build": p.Build}
	}
	if err := a.writeVarsFile(condaSectionName+"_vars_file.yml", map[string]any{
		condaSectionName + "_vars": map[string]any{"packages": packages},
	}); err != nil {
		return err
	}
	a.addSection(condaSectionName, condaSectionName)
	return nil
}

// addAptPackages materialises the "optional" sub-playbook's vars file when
// aptPkgs is non-empty.
func (a *assembly) addAptPackages(aptPkgs []string) error {
	if len(aptPkgs) == 0 {
		return nil
	}
	if err := a.writeVarsFile(optionalSectionName+"_vars_file.yml", map[string]any{
		"apt_packages": aptPkgs,
	}); err != nil {
		return err
	}
	a.addSection(optionalSectionName, optionalSectionName)
	return nil
}

// addResearchEnvironment materialises the research-environment template's
// vars file, unless createOnlyBackend is set (deploying the backend only,
// no in-VM configuration) or templateName is empty.
func (a *assembly) addResearchEnvironment(templateName, templateVersion, baseURL string, createOnlyBackend bool, siteSpecific bool, cloudSite string) error {
	if templateName == "" || createOnlyBackend {
		return nil
	}
	playbookName := templateName
	if siteSpecific {
		playbookName = templateName + "-" + cloudSite
	}
	if err := a.writeVarsFile(templateName+"_vars_file.yml", map[string]any{
		templateName + "_vars": map[string]any{
			"template_version":    templateVersion,
			"create_only_backend": createOnlyBackend,
			"base_url":            baseURL,
		},
	}); err != nil {
		return err
	}
	a.addSection(templateName, playbookName)
	return nil
}

// addChangeKey appends the key-rotation task to the always block; it always
// runs, even on partial failure of the block above (spec.md §4.6).
func (a *assembly) addChangeKey(publicKey string) error {
	if err := a.writeVarsFile(changeKeySectionName+"_vars_file.yml", map[string]any{
		"change_key_vars": map[string]any{"key": publicKey},
	}); err != nil {
		return err
	}
	a.addAlwaysSection(changeKeySectionName, changeKeySectionName)
	return nil
}

// writeGenericPlaybook writes the top-level generic_playbook.yml tying
// together every vars file and task collected so far.
func (a *assembly) writeGenericPlaybook() error {
	play := ansiblePlay{
		Hosts:     "vm",
		VarsFiles: a.varsFiles,
		Tasks: []ansibleBlock{{
			Block:  a.tasks,
			Always: a.always,
		}},
	}
	f, err := os.Create(filepath.Join(a.scratchDir, genericPlaybookFile))
	if err != nil {
		return err
	}
	defer f.Close()
	enc := yaml.NewEncoder(f)
	defer enc.Close()
	return enc.Encode([]ansiblePlay{play})
}

// writeInventory writes the one-host ansible inventory pointing at the VM's
// external SSH endpoint with the supplied private key file.
func writeInventory(scratchDir, ip string, port int, privateKeyPath string) error {
	content := fmt.Sprintf(
		"[vm]\n%s:%d ansible_user=ubuntu ansible_ssh_private_key_file=%s ansible_python_interpreter=/usr/bin/python3\n",
		ip, port, privateKeyPath,
	)
	return os.WriteFile(filepath.Join(scratchDir, "inventory"), []byte(content), 0o600)
}
