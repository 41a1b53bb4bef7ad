package event

import "fmt"

const untitledTask = "بدون عنوان"

func render(class Class, f fields) (title, body string) {
	task := f.title
	if task == "" {
		task = untitledTask
	}

	switch class {
	case Created:
		if f.group != "" {
			return "مهمة جماعية جديدة", fmt.Sprintf("تمت إضافة مهمة جديدة إلى مجموعة %s: %s", f.group, task)
		}
		return "مهمة جديدة", fmt.Sprintf("تم إسناد مهمة جديدة إليك: %s", task)

	case CompletedTransition:
		if f.assignee != "" {
			return "تم إنجاز مهمة", fmt.Sprintf("أنجز %s المهمة: %s", f.assignee, task)
		}
		return "تم إنجاز مهمة", fmt.Sprintf("تم إنجاز المهمة: %s", task)

	case AdminEdit:
		if f.group != "" {
			return "تم تعديل مهمة", fmt.Sprintf("قامت الإدارة بتعديل مهمة المجموعة %s: %s", f.group, task)
		}
		return "تم تعديل مهمة", fmt.Sprintf("قامت الإدارة بتعديل المهمة: %s", task)
	}
	return "", ""
}
