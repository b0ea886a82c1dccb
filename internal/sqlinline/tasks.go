package sqlinline

const QInsertTasks = `--sql 476250ec-2ead-4b96-8df8-d01f6771ccb9
insert into generation_tasks (id, job_id, unit_index, unit_type, status, retry_count, created_at, updated_at)
select t.id::uuid, $1::uuid, t.unit_index, t.unit_type, 'pending', 0, $5::timestamptz, $5::timestamptz
from unnest($2::text[], $3::int[], $4::text[]) as t(id, unit_index, unit_type);
`

const taskColumns = `id, job_id, unit_index, unit_type, status,
    coalesce(result_url, ''), coalesce(storage_path, ''), coalesce(result_text, ''),
    coalesce(external_task_id, ''), coalesce(external_status, ''),
    retry_count, retry_after, coalesce(last_error, ''), created_at, updated_at, completed_at`

const QSelectTask = `--sql 70c1f8a5-18f7-49e2-a4b8-dc6ede63717f
select ` + taskColumns + `
from generation_tasks
where id = $1::uuid;
`

const QListTasksByJob = `--sql adcc2f05-dc91-4b36-bf6b-85a0cf7a72c5
select ` + taskColumns + `
from generation_tasks
where job_id = $1::uuid
order by unit_index asc;
`

const QClaimTask = `--sql 14d7d751-28e0-4214-b41c-9c1eddf077bb
update generation_tasks
set status = 'processing',
    updated_at = $2::timestamptz
where id = $1::uuid
  and (
    status = 'pending'
    or (status = 'retrying' and (retry_after is null or retry_after <= $2::timestamptz))
  )
returning ` + taskColumns + `;
`

const QCompleteTask = `--sql 800d72a3-0a34-49d3-9151-e29cb9cf3e3f
update generation_tasks
set status = 'completed',
    result_url = nullif($2::text, ''),
    storage_path = nullif($3::text, ''),
    result_text = nullif($4::text, ''),
    last_error = null,
    updated_at = $5::timestamptz,
    completed_at = $5::timestamptz
where id = $1::uuid
  and status not in ('completed', 'failed');
`

const QFailTask = `--sql b055c81f-55a0-4978-ba3a-1874fe87d31c
update generation_tasks
set status = 'failed',
    last_error = $2::text,
    updated_at = $3::timestamptz,
    completed_at = $3::timestamptz
where id = $1::uuid
  and status not in ('completed', 'failed');
`

const QMarkTaskRetrying = `--sql 9ea4f02a-4f15-4d22-bbba-1d6fc37ceee3
update generation_tasks
set status = 'retrying',
    retry_count = retry_count + 1,
    retry_after = $2::timestamptz,
    last_error = $3::text,
    updated_at = $4::timestamptz
where id = $1::uuid
  and status not in ('completed', 'failed');
`

const QSetTaskExternal = `--sql d2717656-5d7d-4e68-9da2-c29c1ca66726
update generation_tasks
set external_task_id = coalesce(nullif($2::text, ''), external_task_id),
    external_status = nullif($3::text, ''),
    updated_at = now()
where id = $1::uuid;
`

const QFailIncompleteTasks = `--sql b2c232e7-af9e-4e2e-8c07-f5347d8dfe6b
update generation_tasks
set status = 'failed',
    last_error = $2::text,
    updated_at = $3::timestamptz,
    completed_at = $3::timestamptz
where job_id = $1::uuid
  and status not in ('completed', 'failed');
`

const QCountTasks = `--sql bc88d9ca-7c4d-446c-b301-ec981e371d1c
select
    count(*) as total,
    count(*) filter (where status = 'completed') as completed,
    count(*) filter (where status = 'failed') as failed
from generation_tasks
where job_id = $1::uuid;
`

const QListDueTasks = `--sql 2ec4a052-84e9-4933-b467-69e81111633d
select t.id, t.job_id, j.kind, t.status
from generation_tasks t
join generation_jobs j on j.id = t.job_id
where j.status in ('pending', 'processing')
  and (
    (t.status = 'retrying' and t.retry_after <= $1::timestamptz)
    or (t.status = 'pending' and t.updated_at < $2::timestamptz)
  )
order by t.updated_at asc
limit $3::int;
`
