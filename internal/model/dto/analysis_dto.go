package dto

// TriggerAnalysisRequest 触发分析请求
type TriggerAnalysisRequest struct {
	Provider           string `json:"provider,omitempty" binding:"omitempty,max=50"`
	Model              string `json:"model,omitempty" binding:"omitempty,max=100"`
	Tier               string `json:"tier,omitempty" binding:"omitempty,max=20"`
	CustomInstructions string `json:"custom_instructions,omitempty"`
	SkipLevel3         bool   `json:"skip_level3,omitempty"`
}

// TriggerAnalysisResponse 触发分析响应
type TriggerAnalysisResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CancelAnalysisResponse 取消分析响应
type CancelAnalysisResponse struct {
	Success         bool   `json:"success"`
	ProcessesKilled int    `json:"processes_killed"`
	Status          string `json:"status"`
}

// ActiveJobResponse 当前活跃任务查询响应
type ActiveJobResponse struct {
	Running bool   `json:"running"`
	JobID   string `json:"job_id,omitempty"`
	Status  string `json:"status,omitempty"`
}
