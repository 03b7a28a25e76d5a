package main

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/alessio/shellescape"
	wfv1 "github.com/argoproj/argo-workflows/v3/pkg/apis/workflow/v1alpha1"
	"github.com/google/uuid"
	shellwords "github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	k8sv1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	k8smeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"sigs.k8s.io/yaml"
)

var defaultImage string = "build-error-this-variable-should-have-been-set-on-build"

var workflowCmd = &cobra.Command{
	Use:   "workflow gs://bucket/prefix input.tif...",
	Short: "create an argo workflow converting every input to a cog under prefix",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runWorkflow,
}

func init() {
	flags := workflowCmd.Flags()
	flags.String("image", defaultImage, "docker image for workers")
	flags.Bool("shell", false, "output shell script instead of argo workflow")
	flags.String("args", "", "extra switches passed to each create command, e.g. \"--nodata 0 --co COMPRESS=JPEG\"")
	flags.Int("parallelism", 8, "maximum number of concurrent conversions")
	flags.String("jobID", "", "(advanced) use predefined job identifier")
	bindFlags(flags, "image", "shell", "args", "jobID")
}

func int32Ptr(val int32) *int32 {
	a := val
	return &a
}

func int64Ptr(val int64) *int64 {
	a := val
	return &a
}

func intOrStringPtr(val int) *intstr.IntOrString {
	a := intstr.FromInt(val)
	return &a
}

func resourcePtr(val string) *resource.Quantity {
	res := resource.MustParse(val)
	return &res
}

// forwardedArgs splits the --args switches. Switches that would change where
// or how the worker writes its output are refused.
func forwardedArgs(s string) ([]string, error) {
	words, err := shellwords.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid --args: %w", err)
	}
	for _, w := range words {
		name, _, _ := strings.Cut(w, "=")
		switch name {
		case "--output", "--raw", "--config":
			return nil, fmt.Errorf("%s switch not allowed", name)
		}
	}
	return words, nil
}

// outputName is the cog created under prefix for input
func outputName(prefix, input string) string {
	base := path.Base(input)
	base = strings.TrimSuffix(base, path.Ext(base))
	return strings.TrimSuffix(prefix, "/") + "/" + base + ".tif"
}

func createCommands(prefix string, inputs []string, extra []string) ([][]string, error) {
	seen := map[string]string{}
	commands := make([][]string, len(inputs))
	for i, input := range inputs {
		output := outputName(prefix, input)
		if other, ok := seen[output]; ok {
			return nil, fmt.Errorf("%s and %s would both be written to %s", other, input, output)
		}
		seen[output] = input
		commands[i] = append([]string{"cogeo", "create", input, output}, extra...)
	}
	return commands, nil
}

func newWorkflow(jobID, image string, parallelism int, commands [][]string) *wfv1.Workflow {
	wf := &wfv1.Workflow{
		ObjectMeta: k8smeta.ObjectMeta{
			GenerateName: "cogeo-",
			Labels: map[string]string{
				"cogeo/job": jobID,
			},
		},
		TypeMeta: k8smeta.TypeMeta{
			APIVersion: "argoproj.io/v1alpha1",
			Kind:       "Workflow",
		},
		Spec: wfv1.WorkflowSpec{
			TTLStrategy: &wfv1.TTLStrategy{
				SecondsAfterSuccess: int32Ptr(3600),
			},
			Parallelism: int64Ptr(int64(parallelism)),
			Entrypoint:  "cogeo",
			TemplateDefaults: &wfv1.Template{
				Volumes: []k8sv1.Volume{
					{
						Name: "scratch",
						VolumeSource: k8sv1.VolumeSource{
							EmptyDir: &k8sv1.EmptyDirVolumeSource{
								SizeLimit: resourcePtr("20G"),
							},
						},
					},
				},
				Container: &k8sv1.Container{
					ImagePullPolicy: k8sv1.PullAlways,
					Resources: k8sv1.ResourceRequirements{
						Requests: k8sv1.ResourceList{
							k8sv1.ResourceCPU:    resource.MustParse("2"),
							k8sv1.ResourceMemory: resource.MustParse("2G"),
						},
					},
					WorkingDir: "/scratch",
					Env: []k8sv1.EnvVar{
						{Name: "COGEO_TMPDIR", Value: "/scratch"},
					},
					VolumeMounts: []k8sv1.VolumeMount{
						{
							Name:      "scratch",
							MountPath: "/scratch",
						},
					},
				},
			},
			Templates: []wfv1.Template{
				{Name: "cogeo"},
			},
		},
	}
	ps := wfv1.ParallelSteps{}
	for i, command := range commands {
		ps.Steps = append(ps.Steps, wfv1.WorkflowStep{
			Name: fmt.Sprintf("create-%d", i),
			Inline: &wfv1.Template{
				RetryStrategy: &wfv1.RetryStrategy{
					Limit: intOrStringPtr(5),
				},
				Metadata: wfv1.Metadata{
					Annotations: map[string]string{
						"cluster-autoscaler.kubernetes.io/safe-to-evict": "false",
					},
				},
				Container: &k8sv1.Container{
					Name:    "create",
					Image:   image,
					Command: command,
				},
			},
		})
	}
	wf.Spec.Templates[0].Steps = append(wf.Spec.Templates[0].Steps, ps)
	return wf
}

func writeScript(w io.Writer, commands [][]string) {
	fmt.Fprintln(w, "set -e")
	for _, c := range commands {
		fmt.Fprintln(w, shellescape.QuoteCommand(c))
	}
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	extra, err := forwardedArgs(viper.GetString("args"))
	if err != nil {
		return err
	}
	commands, err := createCommands(args[0], args[1:], extra)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if viper.GetBool("shell") {
		writeScript(out, commands)
		return nil
	}
	jobID := viper.GetString("jobID")
	if jobID == "" {
		jobID = uuid.New().String()
	}
	parallelism, err := cmd.Flags().GetInt("parallelism")
	if err != nil {
		return err
	}
	yb, err := yaml.Marshal(newWorkflow(jobID, viper.GetString("image"), parallelism, commands))
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	_, err = out.Write(yb)
	return err
}
