package advisory

import (
	"fmt"
	"strings"

	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const systemPrompt = "Bạn là chuyên gia quản lý rủi ro dự án."

var amountPrinter = message.NewPrinter(language.English)

func vnd(d decimal.Decimal) string {
	return amountPrinter.Sprintf("%d VND", d.Round(0).IntPart())
}

func dateOr(s *models.ProjectSnapshot, end bool) string {
	t := s.StartDate
	if end {
		t = s.EndDate
	}
	if t == nil {
		return "Chưa xác định"
	}
	return t.Format("2006-01-02")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Không có"
	}
	return s
}

// candidatesPrompt asks for hidden risks in the project description. The answer must be bare JSON.
func candidatesPrompt(s *models.ProjectSnapshot) string {
	var b strings.Builder
	b.WriteString("Hãy phân tích thông tin dự án sau và xác định các rủi ro tiềm ẩn:\n\n")
	b.WriteString("**Thông tin dự án:**\n")
	fmt.Fprintf(&b, "- Tên dự án: %s\n", s.Name)
	fmt.Fprintf(&b, "- Mô tả: %s\n", orNone(s.Description))
	fmt.Fprintf(&b, "- Ngày bắt đầu: %s\n", dateOr(s, false))
	fmt.Fprintf(&b, "- Ngày kết thúc dự kiến: %s\n", dateOr(s, true))
	fmt.Fprintf(&b, "- Tiến độ hiện tại: %.1f%%\n", s.Progress)
	fmt.Fprintf(&b, "- Số lượng công việc: %d\n", len(s.Tasks))
	fmt.Fprintf(&b, "- Ngân sách: %s\n\n", vnd(s.TotalPlanned()))
	b.WriteString(`**Yêu cầu:**
Trả về JSON với cấu trúc sau (KHÔNG thêm markdown hoặc text khác):
{
    "risks": [
        {
            "type": "schedule" hoặc "budget" hoặc "resource" hoặc "quality" hoặc "scope",
            "name": "Tên rủi ro ngắn gọn (dưới 80 ký tự)",
            "description": "Mô tả chi tiết rủi ro",
            "probability": 0-100 (số nguyên),
            "impact": 1-10 (số thập phân),
            "root_cause": "Nguyên nhân gốc rễ",
            "mitigation_plan": "Kế hoạch khắc phục chi tiết",
            "confidence": 60-95 (độ tin cậy)
        }
    ]
}

Chỉ phân tích các rủi ro thực sự quan trọng (tối đa 3-5 rủi ro). Nếu không phát hiện rủi ro nào, trả về {"risks": []}.
`)
	return b.String()
}

func mitigationPrompt(r *models.RiskRecord) string {
	var b strings.Builder
	b.WriteString("Hãy tạo kế hoạch khắc phục CHI TIẾT cho rủi ro sau:\n\n")
	b.WriteString("**Thông tin rủi ro:**\n")
	fmt.Fprintf(&b, "- Tên: %s\n", r.Name)
	fmt.Fprintf(&b, "- Loại: %s\n", r.RiskType.Label())
	fmt.Fprintf(&b, "- Mức độ: %s\n", r.RiskLevel)
	fmt.Fprintf(&b, "- Xác suất: %.0f%%\n", r.Probability)
	fmt.Fprintf(&b, "- Tác động: %.1f/10\n", r.Impact)
	fmt.Fprintf(&b, "- Điểm rủi ro: %.1f\n", r.RiskScore)
	fmt.Fprintf(&b, "- Mô tả: %s\n", orNone(r.Description))
	fmt.Fprintf(&b, "- Nguyên nhân: %s\n\n", orNone(r.RootCause))
	b.WriteString(`**Yêu cầu:**
Tạo kế hoạch khắc phục THỰC TẾ, CỤ THỂ với:
1. Hành động ngay lập tức (Quick wins - 1-2 ngày)
2. Giải pháp trung hạn (1-2 tuần)
3. Giải pháp dài hạn (phòng ngừa)
4. Người chịu trách nhiệm đề xuất
5. Metrics để đo lường hiệu quả

Format: Text markdown, có bullet points, dễ đọc, KHÔNG trả về JSON.
`)
	return b.String()
}

// rootCausePrompt applies the 5 WHYs method with the project's current numbers.
func rootCausePrompt(r *models.RiskRecord, s *models.ProjectSnapshot) string {
	var b strings.Builder
	b.WriteString("Sử dụng phương pháp 5 WHYs để phân tích nguyên nhân gốc rễ:\n\n")
	fmt.Fprintf(&b, "**Rủi ro:**\n%s\n\n", r.Name)
	b.WriteString("**Thông tin dự án:**\n")
	fmt.Fprintf(&b, "- Tiến độ: %.1f%%\n", s.Progress)
	fmt.Fprintf(&b, "- Số tasks: %d (%d hoàn thành)\n", len(s.Tasks), s.DoneTaskCount())
	fmt.Fprintf(&b, "- Budget spent: %s / %s\n", vnd(s.TotalSpent()), vnd(s.TotalPlanned()))
	fmt.Fprintf(&b, "- Team size: %d người\n\n", s.TeamSize())
	fmt.Fprintf(&b, "**Mô tả rủi ro:**\n%s\n\n", orNone(r.Description))
	b.WriteString(`**Yêu cầu:**
1. Áp dụng 5 WHYs để tìm nguyên nhân gốc rễ
2. Xác định contributing factors (yếu tố đóng góp)
3. Đánh giá mức độ kiểm soát của từng nguyên nhân (controllable/uncontrollable)
4. Đề xuất prevention strategy

Format: Text markdown, có cấu trúc rõ ràng.
`)
	return b.String()
}
