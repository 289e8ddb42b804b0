package analyzer

import (
	"bufio"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

const unknownTime = "未知"

func orUnknown(s string) string {
	if s == "" {
		return unknownTime
	}

	return s
}

func okOrFail(ok bool) string {
	if ok {
		return "成功"
	}

	return "失败"
}

// WriteText writes the numbered, human readable report.
func (rep *Report) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	p := func(format string, args ...any) {
		fmt.Fprintf(bw, format+"\n", args...)
	}

	if rep.Source != "" {
		p("日志文件: %s", rep.Source)
	}
	p("\n分析结果:")

	p("\n1. 网络连接成功次数: %d", rep.Connections)

	p("\n2. DAS参数配置状态:")
	if rep.DASConfigured {
		p("   DAS参数配置成功")
	} else {
		p("   DAS参数配置失败")
		p("   错误发生时间: %s", orUnknown(rep.DASErrorTime))
		for _, step := range rep.Steps {
			p("   %s: 发送[%s], 接收[%s]", step.Name, okOrFail(step.Sent), okOrFail(step.Received))
		}
	}

	p("\n3. sfp_connet状态:")
	switch rep.DCB {
	case DCBOK:
		p("   DCB连接正常: 采集前collect_flag=%s, 采集后collect_flag=%s",
			rep.LinkBefore.CollectFlag, rep.LinkAfter.CollectFlag)
	case DCBFailed:
		p("   DCB连接失败: collect_flag在开始采集前后变化异常 (采集前:%s, 采集后:%s)",
			rep.LinkBefore.CollectFlag, rep.LinkAfter.CollectFlag)
		p("   错误发生时间: %s", orUnknown(rep.DCBFailTime))
	default:
		p("   无法判断DCB连接状态: 未找到完整的sfp_connet状态信息")
	}

	p("\n4. 数据接收状态:")
	if rep.RecvZero {
		p("   无数据输入: recv为0")
		p("   错误发生时间: %s", orUnknown(rep.RecvZeroTime))
	} else {
		p("   数据接收正常")
	}

	p("\n5. 错误检查(recv/sample/angle error):")
	writeFindings(p, rep.StatusErrors)

	p("\n6. 错误检查(loss_view/err_view):")
	writeFindings(p, rep.ViewErrors)

	p("\n7. 总体状态:")
	if rep.HasError {
		p("   存在错误")
	} else {
		p("   未检测到错误")
	}

	return bw.Flush()
}

func writeFindings(p func(string, ...any), findings []Finding) {
	if len(findings) == 0 {
		p("   未检测到错误")
		return
	}

	for _, f := range findings {
		p("   %s", f.Line)
		p("   错误发生时间: %s", orUnknown(f.Time))
	}
}

// WriteYAML writes the report as a YAML document.
func (rep *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	return enc.Close()
}
